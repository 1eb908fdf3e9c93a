package domain

import "time"

// EventKind identifies what happened to a ticket.
type EventKind string

const (
	EventStatusChanged         EventKind = "status-changed"
	EventPartsNeeded           EventKind = "parts-needed"
	EventAdditionalPartsNeeded EventKind = "additional-parts-needed"
	EventPartsOrdered          EventKind = "parts-ordered"
	EventPartsReceived         EventKind = "parts-received"
	EventServiceCompleted      EventKind = "service-completed"
	EventServiceBilled         EventKind = "service-billed"
	EventServiceCancelled      EventKind = "service-cancelled"
	// EventSupplierDigest is only used to resolve the daily report template.
	EventSupplierDigest EventKind = "supplier-daily-digest"
)

// BillableKinds are included in a supplier's daily digest.
var BillableKinds = []EventKind{
	EventPartsOrdered,
	EventPartsReceived,
	EventServiceCompleted,
	EventServiceBilled,
}

// Billable reports whether the kind contributes to supplier digests.
func (k EventKind) Billable() bool {
	for _, candidate := range BillableKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// NotificationEvent is emitted exactly once per committed transition.
type NotificationEvent struct {
	ID           string
	TicketID     string
	Kind         EventKind
	Payload      map[string]string
	OccurredAt   time.Time
	DispatchedAt *time.Time
	// MirroredAt is set once the event reached the external event stream.
	MirroredAt *time.Time
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome string

const (
	DeliveryPending DeliveryOutcome = "pending"
	DeliverySent    DeliveryOutcome = "sent"
	DeliveryFailed  DeliveryOutcome = "failed"
)

// DeliveryAttempt records one try at delivering an event to a recipient.
type DeliveryAttempt struct {
	ID          string
	EventID     string
	Recipient   string
	Role        Role
	Channel     Channel
	Body        string
	Attempt     int
	Outcome     DeliveryOutcome
	Permanent   bool
	MessageID   string
	ErrorDetail *string
	AttemptedAt time.Time
}
