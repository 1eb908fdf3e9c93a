package domain

import "time"

// TicketStatus enumerates lifecycle states for repair tickets.
type TicketStatus string

const (
	TicketStatusIntake        TicketStatus = "intake"
	TicketStatusDiagnosed     TicketStatus = "diagnosed"
	TicketStatusAwaitingParts TicketStatus = "awaiting_parts"
	TicketStatusPartsOrdered  TicketStatus = "parts_ordered"
	TicketStatusPartsReceived TicketStatus = "parts_received"
	TicketStatusInRepair      TicketStatus = "in_repair"
	TicketStatusCompleted     TicketStatus = "completed"
	TicketStatusBilled        TicketStatus = "billed"
	TicketStatusCancelled     TicketStatus = "cancelled"
)

// AllTicketStatuses lists every status in lifecycle order.
var AllTicketStatuses = []TicketStatus{
	TicketStatusIntake,
	TicketStatusDiagnosed,
	TicketStatusAwaitingParts,
	TicketStatusPartsOrdered,
	TicketStatusPartsReceived,
	TicketStatusInRepair,
	TicketStatusCompleted,
	TicketStatusBilled,
	TicketStatusCancelled,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range AllTicketStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusBilled || s == TicketStatusCancelled
}

// SupplierKind classifies a ticket's external parts vendor.
type SupplierKind string

const (
	SupplierNone SupplierKind = "none"
	SupplierA    SupplierKind = "supplier_a"
	SupplierB    SupplierKind = "supplier_b"
)

// Suppliers lists the supplier kinds that receive daily digests.
var Suppliers = []SupplierKind{SupplierA, SupplierB}

// Valid reports whether k is a known supplier kind.
func (k SupplierKind) Valid() bool {
	switch k {
	case SupplierNone, SupplierA, SupplierB:
		return true
	}
	return false
}

// HasSupplier reports whether k names an actual vendor.
func (k SupplierKind) HasSupplier() bool {
	return k == SupplierA || k == SupplierB
}

// ServiceTicket is the aggregate for one repair request.
type ServiceTicket struct {
	ID               string
	Status           TicketStatus
	ClientID         string
	TechnicianID     *string
	PartnerID        *string
	SupplierKind     SupplierKind
	Appliance        string
	CreatedAt        time.Time
	LastTransitionAt time.Time
}
