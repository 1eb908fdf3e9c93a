package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// ReportRepository stores supplier daily reports, unique per (supplier, date).
type ReportRepository interface {
	Get(ctx context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error)
	// Create fails with DuplicateReport when the pair already exists.
	Create(ctx context.Context, report *domain.DailyReport) error
	Update(ctx context.Context, report *domain.DailyReport) error
}

type reportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository builds repository.
func NewReportRepository(pool *pgxpool.Pool) ReportRepository {
	return &reportRepository{pool: pool}
}

func (r *reportRepository) Get(ctx context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error) {
	const query = `
        SELECT id, supplier_kind, report_date::text, event_ids, status, message_id, last_error, attempts, generated_at, sent_at
        FROM daily_reports WHERE supplier_kind=$1 AND report_date=$2::date`
	var report domain.DailyReport
	if err := r.pool.QueryRow(ctx, query, supplier, date).Scan(
		&report.ID,
		&report.Supplier,
		&report.ReportDate,
		&report.EventIDs,
		&report.Status,
		&report.MessageID,
		&report.LastError,
		&report.Attempts,
		&report.GeneratedAt,
		&report.SentAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("daily report", map[string]any{"supplier": supplier, "date": date})
		}
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) Create(ctx context.Context, report *domain.DailyReport) error {
	const query = `
        INSERT INTO daily_reports (id, supplier_kind, report_date, event_ids, status, message_id, last_error, attempts, generated_at, sent_at)
        VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.pool.Exec(ctx, query,
		report.ID,
		report.Supplier,
		report.ReportDate,
		report.EventIDs,
		report.Status,
		report.MessageID,
		report.LastError,
		report.Attempts,
		report.GeneratedAt,
		report.SentAt,
	)
	if apperrors.IsUniqueViolation(err) {
		return apperrors.ErrDuplicateReport
	}
	return err
}

func (r *reportRepository) Update(ctx context.Context, report *domain.DailyReport) error {
	const query = `
        UPDATE daily_reports SET event_ids=$1, status=$2, message_id=$3, last_error=$4, attempts=$5, generated_at=$6, sent_at=$7
        WHERE id=$8`
	cmd, err := r.pool.Exec(ctx, query,
		report.EventIDs,
		report.Status,
		report.MessageID,
		report.LastError,
		report.Attempts,
		report.GeneratedAt,
		report.SentAt,
		report.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewNotFound("daily report", map[string]any{"report_id": report.ID})
	}
	return nil
}
