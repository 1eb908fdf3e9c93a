package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// EventRepository reads the notification outbox. Events are only written by
// TicketRepository.CommitTransition.
type EventRepository interface {
	GetByID(ctx context.Context, id string) (*domain.NotificationEvent, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.NotificationEvent, error)
	// ListUndispatched returns the oldest events not yet handed to the bus.
	ListUndispatched(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	// ListUnmirrored returns the oldest events not yet copied to the event
	// stream. Mirroring is tracked apart from dispatch.
	ListUnmirrored(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
	MarkMirrored(ctx context.Context, id string, at time.Time) error
	// ListBillable returns billable events of tickets routed through supplier
	// with occurred_at in [from, to).
	ListBillable(ctx context.Context, supplier domain.SupplierKind, from, to time.Time) ([]domain.NotificationEvent, error)
}

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository builds repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

const eventColumns = `e.id, e.ticket_id, e.kind, e.payload, e.occurred_at, e.dispatched_at, e.mirrored_at`

func (r *eventRepository) GetByID(ctx context.Context, id string) (*domain.NotificationEvent, error) {
	if !apperrors.IsUUID(id) {
		return nil, apperrors.NewNotFound("notification event", map[string]any{"event_id": id})
	}
	query := `SELECT ` + eventColumns + ` FROM notification_events e WHERE e.id=$1`
	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("notification event", map[string]any{"event_id": id})
	}
	return event, err
}

func (r *eventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.NotificationEvent, error) {
	if !apperrors.IsUUID(ticketID) {
		return nil, nil
	}
	query := `SELECT ` + eventColumns + ` FROM notification_events e
        WHERE e.ticket_id=$1 ORDER BY e.occurred_at ASC, e.seq ASC`
	return r.list(ctx, query, ticketID)
}

func (r *eventRepository) ListUndispatched(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM notification_events e
        WHERE e.dispatched_at IS NULL ORDER BY e.seq ASC LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *eventRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notification_events SET dispatched_at=$1 WHERE id=$2 AND dispatched_at IS NULL`
	_, err := r.pool.Exec(ctx, query, at, id)
	return err
}

func (r *eventRepository) ListUnmirrored(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM notification_events e
        WHERE e.mirrored_at IS NULL ORDER BY e.seq ASC LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *eventRepository) MarkMirrored(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notification_events SET mirrored_at=$1 WHERE id=$2 AND mirrored_at IS NULL`
	_, err := r.pool.Exec(ctx, query, at, id)
	return err
}

func (r *eventRepository) ListBillable(ctx context.Context, supplier domain.SupplierKind, from, to time.Time) ([]domain.NotificationEvent, error) {
	kinds := make([]string, len(domain.BillableKinds))
	for i, kind := range domain.BillableKinds {
		kinds[i] = string(kind)
	}
	query := `SELECT ` + eventColumns + ` FROM notification_events e
        JOIN service_tickets t ON t.id = e.ticket_id
        WHERE t.supplier_kind=$1 AND e.kind = ANY($2) AND e.occurred_at >= $3 AND e.occurred_at < $4
        ORDER BY e.occurred_at ASC, e.seq ASC`
	return r.list(ctx, query, supplier, kinds, from, to)
}

func (r *eventRepository) list(ctx context.Context, query string, args ...any) ([]domain.NotificationEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.NotificationEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.NotificationEvent, error) {
	var event domain.NotificationEvent
	if err := row.Scan(
		&event.ID,
		&event.TicketID,
		&event.Kind,
		&event.Payload,
		&event.OccurredAt,
		&event.DispatchedAt,
		&event.MirroredAt,
	); err != nil {
		return nil, err
	}
	return &event, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, event *domain.NotificationEvent) error {
	const query = `
        INSERT INTO notification_events (id, ticket_id, kind, payload, occurred_at)
        VALUES ($1,$2,$3,$4,$5)`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.TicketID,
		event.Kind,
		event.Payload,
		event.OccurredAt,
	)
	return err
}
