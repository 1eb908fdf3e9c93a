package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/bootstrap"
	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/report"
)

var errPending = errors.New("one or more reports are still pending")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Printf("reportjob: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var suppliers []string
	var date string

	flagSet := pflag.NewFlagSet("reportjob", pflag.ContinueOnError)
	flagSet.StringSliceVar(&suppliers, "supplier", []string{string(domain.SupplierA), string(domain.SupplierB)}, "supplier kinds to report on")
	flagSet.StringVar(&date, "date", "", "report day as YYYY-MM-DD in the supplier's zone (default: yesterday)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, logger)
	defer infra.Close()
	if err != nil {
		return err
	}

	location := bootstrap.SupplierLocation(cfg.Report)
	job := report.NewJob(report.Dependencies{
		Store:     infra.Store,
		Templates: infra.Templates,
		Email:     infra.Email,
		Locker:    infra.Locker,
		Location:  location,
		Logger:    logger,
	})

	pending := false
	for _, s := range suppliers {
		supplier := domain.SupplierKind(s)
		day := reportDay(date, location(supplier), time.Now())
		rep, err := job.RunDailyReport(ctx, supplier, day)
		if err != nil {
			return fmt.Errorf("%s %s: %w", supplier, day, err)
		}
		logger.Info("daily report",
			zap.String("supplier", s),
			zap.String("date", day),
			zap.String("status", string(rep.Status)),
			zap.Int("events", len(rep.EventIDs)))
		if rep.Status == domain.ReportPending {
			pending = true
		}
	}
	if pending {
		return errPending
	}
	return nil
}

// reportDay returns date, or the day before now in loc when date is empty.
func reportDay(date string, loc *time.Location, now time.Time) string {
	if date != "" {
		return date
	}
	return now.In(loc).AddDate(0, 0, -1).Format(domain.ReportDateLayout)
}
