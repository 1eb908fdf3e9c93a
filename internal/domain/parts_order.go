package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartsOrderStatus tracks the parts-order sub-state of a ticket.
type PartsOrderStatus string

const (
	PartsOrderPending   PartsOrderStatus = "pending"
	PartsOrderOrdered   PartsOrderStatus = "ordered"
	PartsOrderReceived  PartsOrderStatus = "received"
	PartsOrderCancelled PartsOrderStatus = "cancelled"
)

// Open reports whether the order still blocks a new order on the same ticket.
func (s PartsOrderStatus) Open() bool {
	return s == PartsOrderPending || s == PartsOrderOrdered
}

// PartsOrder is a request for replacement parts attached to a ticket.
type PartsOrder struct {
	ID            string
	TicketID      string
	Description   string
	OrderedBy     string
	Status        PartsOrderStatus
	EstimatedCost decimal.Decimal
	ActualCost    *decimal.Decimal
	CreatedAt     time.Time
	OrderedAt     *time.Time
	ReceivedAt    *time.Time
	UpdatedAt     time.Time
}
