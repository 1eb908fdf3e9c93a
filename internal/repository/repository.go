package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store groups every repository the core depends on.
type Store struct {
	Tickets     TicketRepository
	PartsOrders PartsOrderRepository
	Events      EventRepository
	Deliveries  DeliveryRepository
	Reports     ReportRepository
	Contacts    ContactRepository
}

// NewPostgresStore wires the pgx implementations against one pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Tickets:     NewTicketRepository(pool),
		PartsOrders: NewPartsOrderRepository(pool),
		Events:      NewEventRepository(pool),
		Deliveries:  NewDeliveryRepository(pool),
		Reports:     NewReportRepository(pool),
		Contacts:    NewContactRepository(pool),
	}
}
