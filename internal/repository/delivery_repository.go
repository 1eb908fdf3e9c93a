package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// DeliveryRepository owns delivery attempt records.
type DeliveryRepository interface {
	// Create records an attempt before the channel is called.
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error
	// Complete stores the final outcome of an attempt. It fails with Conflict
	// when another attempt for the same triple is already sent.
	Complete(ctx context.Context, attempt *domain.DeliveryAttempt) error
	ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.DeliveryAttempt, error)
}

type deliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository builds repository.
func NewDeliveryRepository(pool *pgxpool.Pool) DeliveryRepository {
	return &deliveryRepository{pool: pool}
}

const deliveryColumns = `d.id, d.event_id, d.recipient, d.role, d.channel, d.body, d.attempt, d.outcome, d.permanent, d.message_id, d.error_detail, d.attempted_at`

func (r *deliveryRepository) Create(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	const query = `
        INSERT INTO delivery_attempts (id, event_id, recipient, role, channel, body, attempt, outcome, permanent, message_id, error_detail, attempted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.EventID,
		attempt.Recipient,
		attempt.Role,
		attempt.Channel,
		attempt.Body,
		attempt.Attempt,
		attempt.Outcome,
		attempt.Permanent,
		attempt.MessageID,
		attempt.ErrorDetail,
		attempt.AttemptedAt,
	)
	if apperrors.IsUniqueViolation(err) {
		return apperrors.NewConflict("delivery attempt already recorded", map[string]any{"event_id": attempt.EventID, "attempt": attempt.Attempt})
	}
	return err
}

func (r *deliveryRepository) Complete(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	const query = `
        UPDATE delivery_attempts SET outcome=$1, permanent=$2, message_id=$3, error_detail=$4
        WHERE id=$5`
	cmd, err := r.pool.Exec(ctx, query,
		attempt.Outcome,
		attempt.Permanent,
		attempt.MessageID,
		attempt.ErrorDetail,
		attempt.ID,
	)
	if apperrors.IsUniqueViolation(err) {
		return apperrors.NewConflict("triple already delivered", map[string]any{
			"event_id":  attempt.EventID,
			"recipient": attempt.Recipient,
			"channel":   attempt.Channel,
		})
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewNotFound("delivery attempt", map[string]any{"attempt_id": attempt.ID})
	}
	return nil
}

func (r *deliveryRepository) ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	if !apperrors.IsUUID(eventID) {
		return nil, nil
	}
	query := `SELECT ` + deliveryColumns + ` FROM delivery_attempts d
        WHERE d.event_id=$1 ORDER BY d.attempted_at ASC, d.attempt ASC`
	return r.list(ctx, query, eventID)
}

func (r *deliveryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.DeliveryAttempt, error) {
	if !apperrors.IsUUID(ticketID) {
		return nil, nil
	}
	query := `SELECT ` + deliveryColumns + ` FROM delivery_attempts d
        JOIN notification_events e ON e.id = d.event_id
        WHERE e.ticket_id=$1 ORDER BY d.attempted_at ASC, d.attempt ASC`
	return r.list(ctx, query, ticketID)
}

func (r *deliveryRepository) list(ctx context.Context, query string, arg any) ([]domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryAttempt
	for rows.Next() {
		var attempt domain.DeliveryAttempt
		if err := rows.Scan(
			&attempt.ID,
			&attempt.EventID,
			&attempt.Recipient,
			&attempt.Role,
			&attempt.Channel,
			&attempt.Body,
			&attempt.Attempt,
			&attempt.Outcome,
			&attempt.Permanent,
			&attempt.MessageID,
			&attempt.ErrorDetail,
			&attempt.AttemptedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, attempt)
	}
	return result, rows.Err()
}

