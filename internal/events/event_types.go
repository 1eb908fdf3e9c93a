package events

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// Payload keys carried by notification events and consumed by templates.
const (
	KeyTicketID        = "ticket_id"
	KeyTicketRef       = "ticket_ref"
	KeyAppliance       = "appliance"
	KeyFromStatus      = "from_status"
	KeyToStatus        = "to_status"
	KeyActorID         = "actor_id"
	KeyActorRole       = "actor_role"
	KeySupplier        = "supplier"
	KeyPartsOrderID    = "parts_order_id"
	KeyPartDescription = "part_description"
	KeyEstimatedCost   = "estimated_cost"
	KeyActualCost      = "actual_cost"
	KeyNote            = "note"
	KeyOccurredAt      = "occurred_at"
	KeyRecipientName   = "recipient_name"
)

// KindFor maps a committed edge to the event kind it emits.
func KindFor(from, to domain.TicketStatus) domain.EventKind {
	switch to {
	case domain.TicketStatusAwaitingParts:
		if from == domain.TicketStatusInRepair {
			return domain.EventAdditionalPartsNeeded
		}
		return domain.EventPartsNeeded
	case domain.TicketStatusPartsOrdered:
		return domain.EventPartsOrdered
	case domain.TicketStatusPartsReceived:
		return domain.EventPartsReceived
	case domain.TicketStatusCompleted:
		return domain.EventServiceCompleted
	case domain.TicketStatusBilled:
		return domain.EventServiceBilled
	case domain.TicketStatusCancelled:
		return domain.EventServiceCancelled
	default:
		return domain.EventStatusChanged
	}
}

// TransitionPayload builds the template fields for a status change.
func TransitionPayload(ticket *domain.ServiceTicket, from domain.TicketStatus, actor domain.Actor, at time.Time) map[string]string {
	payload := map[string]string{
		KeyTicketID:   ticket.ID,
		KeyTicketRef:  TicketRef(ticket.ID),
		KeyFromStatus: string(from),
		KeyToStatus:   string(ticket.Status),
		KeyActorID:    actor.ID,
		KeyActorRole:  string(actor.Role),
		KeyAppliance:  ticket.Appliance,
		KeySupplier:   string(ticket.SupplierKind),
		KeyOccurredAt: at.UTC().Format(time.RFC3339),
	}
	return payload
}

// AddPartsOrder copies the parts order fields into payload.
func AddPartsOrder(payload map[string]string, order *domain.PartsOrder) {
	if order == nil {
		return
	}
	payload[KeyPartsOrderID] = order.ID
	payload[KeyPartDescription] = order.Description
	payload[KeyEstimatedCost] = order.EstimatedCost.StringFixed(2)
	if order.ActualCost != nil {
		payload[KeyActualCost] = order.ActualCost.StringFixed(2)
	}
}

// TicketRef is the short customer-facing reference for a ticket id.
func TicketRef(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
