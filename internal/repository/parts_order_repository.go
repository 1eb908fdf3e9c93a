package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// PartsOrderRepository stores parts orders. Status changes go through
// TicketRepository.CommitTransition.
type PartsOrderRepository interface {
	// Create fails with Conflict when the ticket already has an open order.
	Create(ctx context.Context, order *domain.PartsOrder) error
	GetByID(ctx context.Context, id string) (*domain.PartsOrder, error)
	// GetOpenByTicket returns the pending or ordered order, or NotFound.
	GetOpenByTicket(ctx context.Context, ticketID string) (*domain.PartsOrder, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.PartsOrder, error)
}

type partsOrderRepository struct {
	pool *pgxpool.Pool
}

// NewPartsOrderRepository builds repository.
func NewPartsOrderRepository(pool *pgxpool.Pool) PartsOrderRepository {
	return &partsOrderRepository{pool: pool}
}

const partsOrderColumns = `id, ticket_id, description, ordered_by, status, estimated_cost, actual_cost, created_at, ordered_at, received_at, updated_at`

func (r *partsOrderRepository) Create(ctx context.Context, order *domain.PartsOrder) error {
	const query = `
        INSERT INTO parts_orders (id, ticket_id, description, ordered_by, status, estimated_cost, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, query,
		order.ID,
		order.TicketID,
		order.Description,
		order.OrderedBy,
		order.Status,
		order.EstimatedCost,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if apperrors.IsUniqueViolation(err) {
		return apperrors.NewConflict("ticket already has an open parts order", map[string]any{"ticket_id": order.TicketID})
	}
	return err
}

func (r *partsOrderRepository) GetByID(ctx context.Context, id string) (*domain.PartsOrder, error) {
	if !apperrors.IsUUID(id) {
		return nil, apperrors.NewNotFound("parts order", map[string]any{"parts_order_id": id})
	}
	query := `SELECT ` + partsOrderColumns + ` FROM parts_orders WHERE id=$1`
	order, err := scanPartsOrder(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("parts order", map[string]any{"parts_order_id": id})
	}
	return order, err
}

func (r *partsOrderRepository) GetOpenByTicket(ctx context.Context, ticketID string) (*domain.PartsOrder, error) {
	if !apperrors.IsUUID(ticketID) {
		return nil, apperrors.NewNotFound("open parts order", map[string]any{"ticket_id": ticketID})
	}
	query := `SELECT ` + partsOrderColumns + ` FROM parts_orders
        WHERE ticket_id=$1 AND status IN ('pending','ordered')`
	order, err := scanPartsOrder(r.pool.QueryRow(ctx, query, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("open parts order", map[string]any{"ticket_id": ticketID})
	}
	return order, err
}

func (r *partsOrderRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.PartsOrder, error) {
	if !apperrors.IsUUID(ticketID) {
		return nil, nil
	}
	query := `SELECT ` + partsOrderColumns + ` FROM parts_orders WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PartsOrder
	for rows.Next() {
		order, err := scanPartsOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}

func scanPartsOrder(row pgx.Row) (*domain.PartsOrder, error) {
	var (
		order  domain.PartsOrder
		actual decimal.NullDecimal
	)
	if err := row.Scan(
		&order.ID,
		&order.TicketID,
		&order.Description,
		&order.OrderedBy,
		&order.Status,
		&order.EstimatedCost,
		&actual,
		&order.CreatedAt,
		&order.OrderedAt,
		&order.ReceivedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if actual.Valid {
		order.ActualCost = &actual.Decimal
	}
	return &order, nil
}

func updatePartsOrder(ctx context.Context, tx pgx.Tx, order *domain.PartsOrder) error {
	const query = `
        UPDATE parts_orders SET status=$1, actual_cost=$2, ordered_at=$3, received_at=$4, updated_at=$5
        WHERE id=$6`
	var actual decimal.NullDecimal
	if order.ActualCost != nil {
		actual = decimal.NewNullDecimal(*order.ActualCost)
	}
	cmd, err := tx.Exec(ctx, query,
		order.Status,
		actual,
		order.OrderedAt,
		order.ReceivedAt,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewNotFound("parts order", map[string]any{"parts_order_id": order.ID})
	}
	return nil
}
