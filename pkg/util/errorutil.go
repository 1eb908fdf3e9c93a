package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error codes shared by the lifecycle core and its outer surfaces.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeForbiddenActor    = "FORBIDDEN_ACTOR"
	CodeMissingField      = "MISSING_FIELD"
	CodeMessageTooLong    = "MESSAGE_TOO_LONG"
	CodeChannelTransient  = "CHANNEL_TRANSIENT"
	CodeChannelPermanent  = "CHANNEL_PERMANENT"
	CodeDuplicateReport   = "DUPLICATE_REPORT"
	CodeConflict          = "CONFLICT"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL_ERROR"
)

const (
	pgUniqueViolation = "23505"
	pgInvalidText     = "22P02"
)

// Sentinels for errors.Is comparisons. Matching is by Code, so a detailed
// instance built with one of the constructors below compares equal.
var (
	ErrNotFound          = &DomainError{Code: CodeNotFound, Message: "not found", HTTPStatus: http.StatusNotFound}
	ErrInvalidTransition = &DomainError{Code: CodeInvalidTransition, Message: "invalid transition", HTTPStatus: http.StatusConflict}
	ErrForbiddenActor    = &DomainError{Code: CodeForbiddenActor, Message: "actor not permitted", HTTPStatus: http.StatusForbidden}
	ErrMissingField      = &DomainError{Code: CodeMissingField, Message: "missing template field", HTTPStatus: http.StatusUnprocessableEntity}
	ErrMessageTooLong    = &DomainError{Code: CodeMessageTooLong, Message: "message too long", HTTPStatus: http.StatusUnprocessableEntity}
	ErrChannelTransient  = &DomainError{Code: CodeChannelTransient, Message: "channel temporarily unavailable", HTTPStatus: http.StatusBadGateway}
	ErrChannelPermanent  = &DomainError{Code: CodeChannelPermanent, Message: "channel rejected message", HTTPStatus: http.StatusBadGateway}
	ErrDuplicateReport   = &DomainError{Code: CodeDuplicateReport, Message: "daily report already exists", HTTPStatus: http.StatusConflict}
	ErrConflict          = &DomainError{Code: CodeConflict, Message: "conflict", HTTPStatus: http.StatusConflict}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewInvalidTransition(from, to string, reason string) error {
	details := map[string]any{"from": from, "to": to}
	if reason != "" {
		details["reason"] = reason
	}
	return NewDomainError(CodeInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to), http.StatusConflict, details)
}

func NewForbiddenActor(actorID, role, target string) error {
	return NewDomainError(CodeForbiddenActor, "actor not permitted for transition", http.StatusForbidden, map[string]any{
		"actor_id": actorID,
		"role":     role,
		"target":   target,
	})
}

func NewMissingField(templateID, field string) error {
	return NewDomainError(CodeMissingField, fmt.Sprintf("template %s requires field %q", templateID, field), http.StatusUnprocessableEntity, map[string]any{
		"template": templateID,
		"field":    field,
	})
}

func NewMessageTooLong(templateID string, length, limit int) error {
	return NewDomainError(CodeMessageTooLong, fmt.Sprintf("rendered %s is %d characters, limit %d", templateID, length, limit), http.StatusUnprocessableEntity, map[string]any{
		"template": templateID,
		"length":   length,
		"limit":    limit,
	})
}

// NewChannelTransient wraps a retryable adapter failure.
func NewChannelTransient(channel string, err error) error {
	return &DomainError{
		Code:       CodeChannelTransient,
		Message:    channel + " delivery failed temporarily",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewChannelPermanent wraps a non-retryable adapter failure.
func NewChannelPermanent(channel string, err error) error {
	return &DomainError{
		Code:       CodeChannelPermanent,
		Message:    channel + " delivery rejected",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsTransient reports whether err should be retried by a delivery loop.
// Unclassified errors are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrChannelPermanent)
}

// IsUniqueViolation reports whether err is a postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// IsInvalidTextRepresentation reports whether postgres rejected a parameter
// that does not parse as its column type, such as a malformed uuid.
func IsInvalidTextRepresentation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgInvalidText
	}
	return false
}

// IsUUID reports whether id parses as a uuid. Ids that do not cannot name
// a stored row.
func IsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) || IsInvalidTextRepresentation(err) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if IsUniqueViolation(err) {
		if de, ok := NewConflict("resource already exists", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
