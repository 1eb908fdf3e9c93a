package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/domain"
)

// ReportRunner runs one supplier day.
type ReportRunner interface {
	RunDailyReport(ctx context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error)
}

// ReportScheduler invokes the daily report for each supplier's previous
// local days on an interval. Re-running a completed day is a no-op, so
// every tick covers the whole lookback window.
type ReportScheduler struct {
	runner    ReportRunner
	suppliers []domain.SupplierKind
	location  func(domain.SupplierKind) *time.Location
	interval  time.Duration
	lookback  int
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportScheduler builds the scheduler. lookback is the number of past
// days checked per tick, at least 1.
func NewReportScheduler(runner ReportRunner, location func(domain.SupplierKind) *time.Location, interval time.Duration, lookback int, logger *zap.Logger) *ReportScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookback < 1 {
		lookback = 1
	}
	if location == nil {
		location = func(domain.SupplierKind) *time.Location { return time.UTC }
	}
	return &ReportScheduler{
		runner:    runner,
		suppliers: domain.Suppliers,
		location:  location,
		interval:  interval,
		lookback:  lookback,
		logger:    logger.Named("scheduler"),
		now:       time.Now,
	}
}

// Run ticks until ctx is done.
func (s *ReportScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("report scheduler disabled")
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("report scheduler started", zap.Duration("interval", s.interval))
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("report scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs every due (supplier, date) once, oldest first.
func (s *ReportScheduler) Tick(ctx context.Context) {
	now := s.now()
	for _, supplier := range s.suppliers {
		local := now.In(s.location(supplier))
		for back := s.lookback; back >= 1; back-- {
			if ctx.Err() != nil {
				return
			}
			date := local.AddDate(0, 0, -back).Format(domain.ReportDateLayout)
			report, err := s.runner.RunDailyReport(ctx, supplier, date)
			if err != nil {
				s.logger.Warn("daily report run failed",
					zap.String("supplier", string(supplier)),
					zap.String("date", date),
					zap.Error(err))
				continue
			}
			if report != nil && report.Status == domain.ReportPending {
				s.logger.Warn("daily report still pending",
					zap.String("supplier", string(supplier)),
					zap.String("date", date),
					zap.Int("attempts", report.Attempts))
			}
		}
	}
}
