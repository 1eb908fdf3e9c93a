package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/repair-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	ClientID     string              `json:"client_id"`
	TechnicianID *string             `json:"technician_id"`
	PartnerID    *string             `json:"partner_id"`
	SupplierKind domain.SupplierKind `json:"supplier_kind"`
	Appliance    string              `json:"appliance"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Target     domain.TicketStatus `json:"target"`
	Override   bool                `json:"override"`
	Note       string              `json:"note"`
	ActualCost *decimal.Decimal    `json:"actual_cost"`
}

// CreatePartsOrderRequest payload.
type CreatePartsOrderRequest struct {
	Description   string          `json:"description"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// TicketResponse represents a ticket.
type TicketResponse struct {
	ID               string                `json:"id"`
	Status           domain.TicketStatus   `json:"status"`
	ClientID         string                `json:"client_id"`
	TechnicianID     *string               `json:"technician_id"`
	PartnerID        *string               `json:"partner_id"`
	SupplierKind     domain.SupplierKind   `json:"supplier_kind"`
	Appliance        string                `json:"appliance"`
	AllowedTargets   []domain.TicketStatus `json:"allowed_targets"`
	CreatedAt        time.Time             `json:"created_at"`
	LastTransitionAt time.Time             `json:"last_transition_at"`
}

// PartsOrderResponse represents a parts order.
type PartsOrderResponse struct {
	ID            string                  `json:"id"`
	TicketID      string                  `json:"ticket_id"`
	Description   string                  `json:"description"`
	OrderedBy     string                  `json:"ordered_by"`
	Status        domain.PartsOrderStatus `json:"status"`
	EstimatedCost decimal.Decimal         `json:"estimated_cost"`
	ActualCost    *decimal.Decimal        `json:"actual_cost"`
	CreatedAt     time.Time               `json:"created_at"`
	OrderedAt     *time.Time              `json:"ordered_at"`
	ReceivedAt    *time.Time              `json:"received_at"`
}

// EventResponse represents a notification event.
type EventResponse struct {
	ID           string            `json:"id"`
	TicketID     string            `json:"ticket_id"`
	Kind         domain.EventKind  `json:"kind"`
	Payload      map[string]string `json:"payload"`
	OccurredAt   time.Time         `json:"occurred_at"`
	DispatchedAt *time.Time        `json:"dispatched_at"`
}

// TransitionResponse bundles the committed state of a transition.
type TransitionResponse struct {
	Ticket     TicketResponse      `json:"ticket"`
	Event      EventResponse       `json:"event"`
	PartsOrder *PartsOrderResponse `json:"parts_order,omitempty"`
}

// StatusChangeResponse is one step of a ticket's history.
type StatusChangeResponse struct {
	EventID    string              `json:"event_id"`
	Kind       domain.EventKind    `json:"kind"`
	From       domain.TicketStatus `json:"from"`
	To         domain.TicketStatus `json:"to"`
	ActorID    string              `json:"actor_id"`
	ActorRole  domain.Role         `json:"actor_role"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// DeliveryAttemptResponse represents one delivery attempt.
type DeliveryAttemptResponse struct {
	ID          string                 `json:"id"`
	EventID     string                 `json:"event_id"`
	Recipient   string                 `json:"recipient"`
	Role        domain.Role            `json:"role"`
	Channel     domain.Channel         `json:"channel"`
	Attempt     int                    `json:"attempt"`
	Outcome     domain.DeliveryOutcome `json:"outcome"`
	Permanent   bool                   `json:"permanent"`
	MessageID   string                 `json:"message_id,omitempty"`
	Error       *string                `json:"error,omitempty"`
	AttemptedAt time.Time              `json:"attempted_at"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.ServiceTicket, allowed []domain.TicketStatus) TicketResponse {
	if allowed == nil {
		allowed = []domain.TicketStatus{}
	}
	return TicketResponse{
		ID:               t.ID,
		Status:           t.Status,
		ClientID:         t.ClientID,
		TechnicianID:     t.TechnicianID,
		PartnerID:        t.PartnerID,
		SupplierKind:     t.SupplierKind,
		Appliance:        t.Appliance,
		AllowedTargets:   allowed,
		CreatedAt:        t.CreatedAt,
		LastTransitionAt: t.LastTransitionAt,
	}
}

// NewPartsOrderResponse maps a parts order.
func NewPartsOrderResponse(o *domain.PartsOrder) PartsOrderResponse {
	return PartsOrderResponse{
		ID:            o.ID,
		TicketID:      o.TicketID,
		Description:   o.Description,
		OrderedBy:     o.OrderedBy,
		Status:        o.Status,
		EstimatedCost: o.EstimatedCost,
		ActualCost:    o.ActualCost,
		CreatedAt:     o.CreatedAt,
		OrderedAt:     o.OrderedAt,
		ReceivedAt:    o.ReceivedAt,
	}
}

// NewEventResponse maps an event.
func NewEventResponse(e *domain.NotificationEvent) EventResponse {
	return EventResponse{
		ID:           e.ID,
		TicketID:     e.TicketID,
		Kind:         e.Kind,
		Payload:      e.Payload,
		OccurredAt:   e.OccurredAt,
		DispatchedAt: e.DispatchedAt,
	}
}

// NewStatusChanges maps history entries.
func NewStatusChanges(changes []domain.StatusChange) []StatusChangeResponse {
	resp := make([]StatusChangeResponse, 0, len(changes))
	for _, c := range changes {
		resp = append(resp, StatusChangeResponse{
			EventID:    c.EventID,
			Kind:       c.Kind,
			From:       c.From,
			To:         c.To,
			ActorID:    c.ActorID,
			ActorRole:  c.ActorRole,
			OccurredAt: c.OccurredAt,
		})
	}
	return resp
}

// NewDeliveryAttempts maps delivery attempts. Message bodies are not exposed.
func NewDeliveryAttempts(attempts []domain.DeliveryAttempt) []DeliveryAttemptResponse {
	resp := make([]DeliveryAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, DeliveryAttemptResponse{
			ID:          a.ID,
			EventID:     a.EventID,
			Recipient:   a.Recipient,
			Role:        a.Role,
			Channel:     a.Channel,
			Attempt:     a.Attempt,
			Outcome:     a.Outcome,
			Permanent:   a.Permanent,
			MessageID:   a.MessageID,
			Error:       a.ErrorDetail,
			AttemptedAt: a.AttemptedAt,
		})
	}
	return resp
}
