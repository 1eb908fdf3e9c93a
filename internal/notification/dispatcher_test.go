package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/repository/memory"
	"github.com/spec-kit/repair-service/internal/templates"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

const (
	clientPhone = "+15550000001"
	clientEmail = "client@example.com"
	techPhone   = "+15550000002"
	supplierA   = "orders@supplier-a.example.com"
)

var zeroBackoff = RetryPolicy{MaxAttempts: 3, Multiplier: 4}

// scripted returns the queued error for each call to an address, then succeeds.
type scripted struct {
	mu      sync.Mutex
	results map[string][]error
	calls   map[string]int
}

func newScripted() *scripted {
	return &scripted{results: map[string][]error{}, calls: map[string]int{}}
}

func (s *scripted) next(address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[address]
	s.calls[address]++
	if queue := s.results[address]; n < len(queue) && queue[n] != nil {
		return "", queue[n]
	}
	return fmt.Sprintf("%s-%d", address, n+1), nil
}

func (s *scripted) SendSMS(_ context.Context, phone, _ string) (string, error) {
	return s.next(phone)
}

func (s *scripted) SendEmail(_ context.Context, address, _, _ string) (string, error) {
	return s.next(address)
}

func (s *scripted) count(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[address]
}

type fixture struct {
	repos  repository.Store
	sender *scripted
	ticket *domain.ServiceTicket
	event  *domain.NotificationEvent
}

func newFixture(t *testing.T, kind domain.EventKind) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	tech := "tech-1"
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ticket := &domain.ServiceTicket{
		ID:               "0c1f7a52-5a7e-4b65-9a3b-000000000001",
		Status:           domain.TicketStatusAwaitingParts,
		ClientID:         "client-1",
		TechnicianID:     &tech,
		SupplierKind:     domain.SupplierA,
		Appliance:        "dishwasher",
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := repos.Tickets.Create(ctx, ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	for _, c := range []domain.Contact{
		{Role: domain.RoleClient, Ref: "client-1", Name: "Ana", Phone: clientPhone, Email: clientEmail},
		{Role: domain.RoleTechnician, Ref: "tech-1", Name: "Bo", Phone: techPhone},
		{Role: domain.RoleSupplier, Ref: string(domain.SupplierA), Name: "Supplier A", Email: supplierA},
	} {
		c := c
		if err := repos.Contacts.Upsert(ctx, &c); err != nil {
			t.Fatalf("seed contact: %v", err)
		}
	}

	payload := events.TransitionPayload(ticket, domain.TicketStatusDiagnosed, domain.Actor{ID: tech, Role: domain.RoleTechnician}, now)
	events.AddPartsOrder(payload, &domain.PartsOrder{ID: "po-1", Description: "drain pump", EstimatedCost: decimal.RequireFromString("42.50")})
	event := &domain.NotificationEvent{
		ID:         "ev-1",
		TicketID:   ticket.ID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: now,
	}
	next := *ticket
	if err := repos.Tickets.CommitTransition(ctx, repository.TransitionCommit{Ticket: &next, FromStatus: ticket.Status, Event: event}); err != nil {
		t.Fatalf("commit event: %v", err)
	}
	return &fixture{repos: repos, sender: newScripted(), ticket: ticket, event: event}
}

func (f *fixture) dispatcher(t *testing.T, tmpl Templates) *Dispatcher {
	t.Helper()
	if tmpl == nil {
		reg, err := templates.Default()
		if err != nil {
			t.Fatalf("load templates: %v", err)
		}
		tmpl = reg
	}
	return NewDispatcher(Dependencies{
		Store:     f.repos,
		Templates: tmpl,
		SMS:       f.sender,
		Email:     f.sender,
	}, zeroBackoff, 4)
}

func forTriple(attempts []domain.DeliveryAttempt, recipient string, channel domain.Channel) []domain.DeliveryAttempt {
	var out []domain.DeliveryAttempt
	for _, a := range attempts {
		if a.Recipient == recipient && a.Channel == channel {
			out = append(out, a)
		}
	}
	return out
}

func sentPerTriple(attempts []domain.DeliveryAttempt) map[string]int {
	out := map[string]int{}
	for _, a := range attempts {
		if a.Outcome == domain.DeliverySent {
			out[a.Recipient+"|"+string(a.Channel)]++
		}
	}
	return out
}

func TestDispatchRetriesTransientThenSends(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	transient := apperrors.NewChannelTransient("sms", errors.New("gateway timeout"))
	f.sender.results[clientPhone] = []error{transient, transient}

	attempts, err := f.dispatcher(t, nil).Dispatch(context.Background(), f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	triple := forTriple(attempts, clientPhone, domain.ChannelSMS)
	if len(triple) != 3 {
		t.Fatalf("expected 3 attempts for client sms, got %d", len(triple))
	}
	for i, a := range triple {
		if a.Attempt != i+1 {
			t.Fatalf("expected attempt number %d, got %d", i+1, a.Attempt)
		}
	}
	if triple[0].Outcome != domain.DeliveryFailed || triple[1].Outcome != domain.DeliveryFailed {
		t.Fatalf("expected first two attempts failed, got %s, %s", triple[0].Outcome, triple[1].Outcome)
	}
	if triple[2].Outcome != domain.DeliverySent || triple[2].MessageID == "" {
		t.Fatalf("expected third attempt sent with message id, got %+v", triple[2])
	}
}

func TestDispatchStopsOnPermanentError(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	f.sender.results[clientPhone] = []error{apperrors.NewChannelPermanent("sms", errors.New("invalid number"))}

	attempts, err := f.dispatcher(t, nil).Dispatch(context.Background(), f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	triple := forTriple(attempts, clientPhone, domain.ChannelSMS)
	if len(triple) != 1 || !triple[0].Permanent || triple[0].Outcome != domain.DeliveryFailed {
		t.Fatalf("expected one permanent failure, got %+v", triple)
	}
	if len(forTriple(attempts, clientEmail, domain.ChannelEmail)) != 1 {
		t.Fatalf("expected client email to be delivered independently")
	}
}

func TestDispatchExhaustsBudget(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	transient := apperrors.NewChannelTransient("sms", errors.New("busy"))
	f.sender.results[techPhone] = []error{transient, transient, transient, transient}
	d := f.dispatcher(t, nil)

	attempts, err := d.Dispatch(context.Background(), f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(forTriple(attempts, techPhone, domain.ChannelSMS)); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}

	attempts, _ = d.Dispatch(context.Background(), f.event.ID)
	if n := len(forTriple(attempts, techPhone, domain.ChannelSMS)); n != 3 {
		t.Fatalf("expected exhausted triple not to be retried, got %d attempts", n)
	}
	if f.sender.count(techPhone) != 3 {
		t.Fatalf("expected 3 sends, got %d", f.sender.count(techPhone))
	}
}

func TestRedispatchIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	d := f.dispatcher(t, nil)
	ctx := context.Background()

	first, err := d.Dispatch(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Dispatch(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected replay to add no attempts, got %d then %d", len(first), len(second))
	}
	for triple, n := range sentPerTriple(second) {
		if n != 1 {
			t.Fatalf("expected one sent attempt for %s, got %d", triple, n)
		}
	}
}

func TestConcurrentDispatchSendsOncePerTriple(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	d := f.dispatcher(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), f.event.ID)
		}()
	}
	wg.Wait()

	for _, address := range []string{clientPhone, clientEmail, techPhone} {
		if n := f.sender.count(address); n != 1 {
			t.Fatalf("expected exactly one send to %s, got %d", address, n)
		}
	}
}

func TestReplayContinuesAttemptNumbering(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	ctx := context.Background()
	detail := "timeout"
	prior := &domain.DeliveryAttempt{
		ID: "prior", EventID: f.event.ID, Recipient: clientPhone, Role: domain.RoleClient,
		Channel: domain.ChannelSMS, Attempt: 1, Outcome: domain.DeliveryFailed, ErrorDetail: &detail,
	}
	if err := f.repos.Deliveries.Create(ctx, prior); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	attempts, err := f.dispatcher(t, nil).Dispatch(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	triple := forTriple(attempts, clientPhone, domain.ChannelSMS)
	if len(triple) != 2 || triple[1].Attempt != 2 || triple[1].Outcome != domain.DeliverySent {
		t.Fatalf("expected attempt 2 to be sent, got %+v", triple)
	}
}

// failingRender breaks one (role, channel) pair.
type failingRender struct {
	Templates
	role    domain.Role
	channel domain.Channel
}

func (f failingRender) Resolve(kind domain.EventKind, role domain.Role, channel domain.Channel) (templates.TemplateID, error) {
	id, err := f.Templates.Resolve(kind, role, channel)
	if err != nil {
		return id, err
	}
	if role == f.role && channel == f.channel {
		return "broken", nil
	}
	return id, nil
}

func (f failingRender) Render(id templates.TemplateID, payload map[string]string) (templates.Rendered, error) {
	if id == "broken" {
		return templates.Rendered{}, apperrors.NewMissingField(string(id), "nope")
	}
	return f.Templates.Render(id, payload)
}

func TestRenderFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	reg, _ := templates.Default()

	attempts, err := f.dispatcher(t, failingRender{Templates: reg, role: domain.RoleClient, channel: domain.ChannelSMS}).
		Dispatch(context.Background(), f.event.ID)
	if err != nil {
		t.Fatalf("expected render failure to stay local, got %v", err)
	}
	if n := len(forTriple(attempts, clientPhone, domain.ChannelSMS)); n != 0 {
		t.Fatalf("expected no attempt for unrenderable message, got %d", n)
	}
	sent := sentPerTriple(attempts)
	if sent[clientEmail+"|email"] != 1 || sent[techPhone+"|sms"] != 1 {
		t.Fatalf("expected other recipients delivered, got %v", sent)
	}
}

func TestPartsOrderedReachesClientAndSupplier(t *testing.T) {
	f := newFixture(t, domain.EventPartsOrdered)

	attempts, err := f.dispatcher(t, nil).Dispatch(context.Background(), f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := sentPerTriple(attempts)
	if sent[supplierA+"|email"] != 1 {
		t.Fatalf("expected supplier email, got %v", sent)
	}
	if sent[clientPhone+"|sms"] != 1 || sent[clientEmail+"|email"] != 1 {
		t.Fatalf("expected client sms and email, got %v", sent)
	}
	if _, ok := sent[techPhone+"|sms"]; ok {
		t.Fatalf("expected technician to be skipped for parts-ordered")
	}
}

func TestDispatchUnknownEvent(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	if _, err := f.dispatcher(t, nil).Dispatch(context.Background(), "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMissingContactIsSkipped(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	other := "tech-unknown"
	d := f.dispatcher(t, nil).WithRules([]RecipientRule{{
		Role: domain.RoleTechnician,
		Ref:  func(*domain.ServiceTicket) (string, bool) { return other, true },
	}})

	attempts, err := d.Dispatch(context.Background(), f.event.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("expected no attempts without contact, got %d", len(attempts))
	}
}

func TestBackoffSchedule(t *testing.T) {
	p := DefaultRetryPolicy
	want := []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Fatalf("expected backoff %s after attempt %d, got %s", w, i+1, got)
		}
	}
}

func TestCancelledDispatchKeepsRecordedAttempts(t *testing.T) {
	f := newFixture(t, domain.EventStatusChanged)
	ctx, cancel := context.WithCancel(context.Background())
	f.sender.results[clientPhone] = []error{apperrors.NewChannelTransient("sms", errors.New("slow"))}

	d := NewDispatcher(Dependencies{
		Store:     f.repos,
		Templates: mustRegistry(t),
		SMS: smsFunc(func(c context.Context, phone, body string) (string, error) {
			id, err := f.sender.SendSMS(c, phone, body)
			if err != nil {
				cancel()
			}
			return id, err
		}),
		Email: f.sender,
	}, RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Hour, Multiplier: 4}, 4)

	_, err := d.Dispatch(ctx, f.event.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
	history, _ := f.repos.Deliveries.ListByEvent(context.Background(), f.event.ID)
	if n := len(forTriple(history, clientPhone, domain.ChannelSMS)); n != 1 {
		t.Fatalf("expected the recorded attempt to stand, got %d", n)
	}
}

type smsFunc func(ctx context.Context, phone, body string) (string, error)

func (f smsFunc) SendSMS(ctx context.Context, phone, body string) (string, error) {
	return f(ctx, phone, body)
}

func mustRegistry(t *testing.T) *templates.Registry {
	t.Helper()
	reg, err := templates.Default()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	return reg
}
