package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// TransitionCommit is everything a single status change writes.
type TransitionCommit struct {
	// Ticket carries the new status and transition timestamp.
	Ticket     *domain.ServiceTicket
	FromStatus domain.TicketStatus
	// Order is the parts order whose status changes with the ticket, if any.
	Order *domain.PartsOrder
	Event *domain.NotificationEvent
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.ServiceTicket) error
	GetByID(ctx context.Context, id string) (*domain.ServiceTicket, error)
	// CommitTransition writes the status, parts order and event atomically.
	// It fails with Conflict when the stored status no longer equals FromStatus.
	CommitTransition(ctx context.Context, commit TransitionCommit) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.ServiceTicket) error {
	const query = `
        INSERT INTO service_tickets (id, status, client_id, technician_id, partner_id, supplier_kind, appliance, created_at, last_transition_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.Status,
		ticket.ClientID,
		ticket.TechnicianID,
		ticket.PartnerID,
		ticket.SupplierKind,
		ticket.Appliance,
		ticket.CreatedAt,
		ticket.LastTransitionAt,
	)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.ServiceTicket, error) {
	if !apperrors.IsUUID(id) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	const query = `
        SELECT id, status, client_id, technician_id, partner_id, supplier_kind, appliance, created_at, last_transition_at
        FROM service_tickets WHERE id=$1`
	var ticket domain.ServiceTicket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Status,
		&ticket.ClientID,
		&ticket.TechnicianID,
		&ticket.PartnerID,
		&ticket.SupplierKind,
		&ticket.Appliance,
		&ticket.CreatedAt,
		&ticket.LastTransitionAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) CommitTransition(ctx context.Context, commit TransitionCommit) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		const updateTicket = `
            UPDATE service_tickets SET status=$1, last_transition_at=$2
            WHERE id=$3 AND status=$4`
		cmd, err := tx.Exec(ctx, updateTicket,
			commit.Ticket.Status,
			commit.Ticket.LastTransitionAt,
			commit.Ticket.ID,
			commit.FromStatus,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return apperrors.NewConflict("ticket status changed concurrently", map[string]any{"ticket_id": commit.Ticket.ID})
		}

		if commit.Order != nil {
			if err := updatePartsOrder(ctx, tx, commit.Order); err != nil {
				return err
			}
		}

		if commit.Event != nil {
			if err := insertEvent(ctx, tx, commit.Event); err != nil {
				return err
			}
		}
		return nil
	})
}
