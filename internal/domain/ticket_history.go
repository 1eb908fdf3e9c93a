package domain

import "time"

// StatusChange is one committed step of a ticket's walk through the lifecycle.
type StatusChange struct {
	EventID    string
	Kind       EventKind
	From       TicketStatus
	To         TicketStatus
	ActorID    string
	ActorRole  Role
	OccurredAt time.Time
}
