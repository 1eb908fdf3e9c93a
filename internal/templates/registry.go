// Package templates maps (event kind, recipient role, channel) to message
// templates and renders them against event payloads.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultSMSLimit is the single-segment SMS ceiling.
const DefaultSMSLimit = 160

// TemplateID names one template in the registry.
type TemplateID string

// Template is a parameterized message.
type Template struct {
	Kind    domain.EventKind `yaml:"kind"`
	Role    domain.Role      `yaml:"role"`
	Channel domain.Channel   `yaml:"channel"`
	Subject string           `yaml:"subject"`
	Body    string           `yaml:"body"`
}

// ID derives the template identifier from its key.
func (t Template) ID() TemplateID {
	return TemplateID(fmt.Sprintf("%s.%s.%s", t.Kind, t.Role, t.Channel))
}

// Rendered is a message ready for a channel adapter.
type Rendered struct {
	Subject string
	Body    string
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

type key struct {
	kind    domain.EventKind
	role    domain.Role
	channel domain.Channel
}

type compiled struct {
	tmpl    Template
	subject []segment
	body    []segment
}

// Registry is an immutable template lookup. Safe for concurrent use.
type Registry struct {
	byKey  map[key]TemplateID
	byID   map[TemplateID]compiled
	limits map[domain.Channel]int
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLengthLimit sets the rendered body ceiling for a channel. Zero disables it.
func WithLengthLimit(channel domain.Channel, limit int) Option {
	return func(r *Registry) {
		r.limits[channel] = limit
	}
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) ([]Template, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	return file.Templates, nil
}

// NewRegistry compiles templates. Duplicate keys and malformed placeholders are rejected.
func NewRegistry(templates []Template, opts ...Option) (*Registry, error) {
	r := &Registry{
		byKey:  make(map[key]TemplateID, len(templates)),
		byID:   make(map[TemplateID]compiled, len(templates)),
		limits: map[domain.Channel]int{domain.ChannelSMS: DefaultSMSLimit},
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, t := range templates {
		if t.Kind == "" || t.Role == "" || t.Channel == "" {
			return nil, fmt.Errorf("template missing kind, role or channel: %+v", t)
		}
		id := t.ID()
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("duplicate template %s", id)
		}
		body, err := parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s body: %w", id, err)
		}
		subject, err := parse(t.Subject)
		if err != nil {
			return nil, fmt.Errorf("template %s subject: %w", id, err)
		}
		r.byKey[key{t.Kind, t.Role, t.Channel}] = id
		r.byID[id] = compiled{tmpl: t, subject: subject, body: body}
	}
	return r, nil
}

// Default builds the registry from the embedded catalog.
func Default(opts ...Option) (*Registry, error) {
	templates, err := ParseCatalog(defaultCatalog)
	if err != nil {
		return nil, err
	}
	return NewRegistry(templates, opts...)
}

// Load builds the registry from path, or from the embedded catalog when path is empty.
func Load(path string, opts ...Option) (*Registry, error) {
	if path == "" {
		return Default(opts...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	templates, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(templates, opts...)
}

// Resolve finds the template for a (kind, role, channel) triple.
func (r *Registry) Resolve(kind domain.EventKind, role domain.Role, channel domain.Channel) (TemplateID, error) {
	id, ok := r.byKey[key{kind, role, channel}]
	if !ok {
		return "", apperrors.NewNotFound("template", map[string]any{
			"kind":    kind,
			"role":    role,
			"channel": channel,
		})
	}
	return id, nil
}

// Render fills the template's placeholders from payload.
func (r *Registry) Render(id TemplateID, payload map[string]string) (Rendered, error) {
	c, ok := r.byID[id]
	if !ok {
		return Rendered{}, apperrors.NewNotFound("template", map[string]any{"id": id})
	}
	body, err := fill(id, c.body, payload)
	if err != nil {
		return Rendered{}, err
	}
	subject, err := fill(id, c.subject, payload)
	if err != nil {
		return Rendered{}, err
	}
	if limit := r.limits[c.tmpl.Channel]; limit > 0 {
		if n := utf8.RuneCountInString(body); n > limit {
			return Rendered{}, apperrors.NewMessageTooLong(string(id), n, limit)
		}
	}
	return Rendered{Subject: subject, Body: body}, nil
}

// Fields lists the placeholders a template requires, sorted.
func (r *Registry) Fields(id TemplateID) []string {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	for _, seg := range append(append([]segment{}, c.subject...), c.body...) {
		if seg.field != "" {
			seen[seg.field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// segment is either literal text or a named placeholder.
type segment struct {
	text  string
	field string
}

func parse(src string) ([]segment, error) {
	var out []segment
	for {
		start := strings.Index(src, "{{")
		if start < 0 {
			if src != "" {
				out = append(out, segment{text: src})
			}
			return out, nil
		}
		end := strings.Index(src[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder at %q", src[start:])
		}
		name := strings.TrimSpace(src[start+2 : start+end])
		if name == "" {
			return nil, fmt.Errorf("empty placeholder")
		}
		if start > 0 {
			out = append(out, segment{text: src[:start]})
		}
		out = append(out, segment{field: name})
		src = src[start+end+2:]
	}
}

func fill(id TemplateID, segments []segment, payload map[string]string) (string, error) {
	var b strings.Builder
	for _, seg := range segments {
		if seg.field == "" {
			b.WriteString(seg.text)
			continue
		}
		val, ok := payload[seg.field]
		if !ok {
			return "", apperrors.NewMissingField(string(id), seg.field)
		}
		b.WriteString(val)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
