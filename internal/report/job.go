// Package report builds and sends the per-supplier daily billing digest.
package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/channels"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/lock"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/templates"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// Templates renders the digest.
type Templates interface {
	Resolve(kind domain.EventKind, role domain.Role, channel domain.Channel) (templates.TemplateID, error)
	Render(id templates.TemplateID, payload map[string]string) (templates.Rendered, error)
}

// Dependencies are the collaborators of a Job.
type Dependencies struct {
	Store     repository.Store
	Templates Templates
	Email     channels.EmailSender
	Locker    lock.Locker
	// Location returns the supplier's local time zone. Nil means UTC.
	Location func(supplier domain.SupplierKind) *time.Location
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Job runs supplier daily reports. Each (supplier, date) is sent at most once.
type Job struct {
	reports   repository.ReportRepository
	events    repository.EventRepository
	contacts  repository.ContactRepository
	templates Templates
	email     channels.EmailSender
	locker    lock.Locker
	location  func(domain.SupplierKind) *time.Location
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewJob builds the report job.
func NewJob(deps Dependencies) *Job {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	location := deps.Location
	if location == nil {
		location = func(domain.SupplierKind) *time.Location { return time.UTC }
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Job{
		reports:   deps.Store.Reports,
		events:    deps.Store.Events,
		contacts:  deps.Store.Contacts,
		templates: deps.Templates,
		email:     deps.Email,
		locker:    locker,
		location:  location,
		metrics:   deps.Metrics,
		logger:    logger.Named("report"),
		now:       clock,
	}
}

// RunDailyReport compiles and emails the digest of supplier for date
// (YYYY-MM-DD in the supplier's zone). A report already sent or recorded as
// no activity is returned unchanged. A failed send leaves the report pending
// with LastError set and is not an error; the next run retries it.
func (j *Job) RunDailyReport(ctx context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error) {
	if !supplier.HasSupplier() {
		return nil, apperrors.NewValidationError("unknown supplier", map[string]any{"supplier": supplier})
	}
	loc := j.location(supplier)
	day, err := time.ParseInLocation(domain.ReportDateLayout, date, loc)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid report date", map[string]any{"date": date})
	}

	release, err := j.locker.Lock(ctx, lock.ReportKey(string(supplier), date))
	if err != nil {
		return nil, err
	}
	defer release()

	log := j.logger.With(zap.String("supplier", string(supplier)), zap.String("date", date))

	report, err := j.existing(ctx, supplier, date)
	if err != nil {
		return nil, err
	}
	if report != nil && report.Status.Done() {
		log.Debug("report already complete", zap.String("status", string(report.Status)))
		return report, nil
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	billable, err := j.events.ListBillable(ctx, supplier, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(billable))
	for i, e := range billable {
		ids[i] = e.ID
	}
	status := domain.ReportPending
	if len(billable) == 0 {
		status = domain.ReportNoActivity
	}

	if report == nil {
		report = &domain.DailyReport{
			ID:          uuid.NewString(),
			Supplier:    supplier,
			ReportDate:  date,
			EventIDs:    ids,
			Status:      status,
			GeneratedAt: j.now(),
		}
		err := j.reports.Create(ctx, report)
		if errors.Is(err, apperrors.ErrDuplicateReport) {
			// Another instance created it first; defer to its record.
			report, err = j.existing(ctx, supplier, date)
			if err != nil {
				return nil, err
			}
			if report == nil || report.Status.Done() {
				return report, nil
			}
		} else if err != nil {
			return nil, err
		}
	} else {
		report.EventIDs = ids
		report.Status = status
		report.GeneratedAt = j.now()
		if err := j.reports.Update(ctx, report); err != nil {
			return nil, err
		}
	}

	if report.Status == domain.ReportNoActivity {
		j.metrics.RecordReport(string(supplier), string(report.Status))
		log.Info("no billable activity")
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	digest := Summarize(billable, loc)
	msg, err := j.render(supplier, date, digest)
	if err != nil {
		j.fail(ctx, report, err, log)
		return report, err
	}

	contact, err := j.contacts.Get(ctx, domain.RoleSupplier, string(supplier))
	if err != nil || contact.Email == "" {
		if err == nil {
			err = apperrors.NewChannelPermanent("email", errors.New("supplier has no email address"))
		}
		report.Attempts++
		j.fail(ctx, report, err, log)
		return report, nil
	}
	if j.email == nil {
		report.Attempts++
		j.fail(ctx, report, errors.New("no email adapter configured"), log)
		return report, nil
	}

	report.Attempts++
	messageID, sendErr := j.email.SendEmail(ctx, contact.Email, msg.Subject, msg.Body)
	if sendErr != nil {
		j.fail(ctx, report, sendErr, log)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		return report, nil
	}

	sentAt := j.now()
	report.Status = domain.ReportSent
	report.MessageID = messageID
	report.SentAt = &sentAt
	report.LastError = nil
	if err := j.reports.Update(context.WithoutCancel(ctx), report); err != nil {
		log.Error("report sent but not recorded", zap.String("message_id", messageID), zap.Error(err))
		return report, err
	}
	j.metrics.RecordReport(string(supplier), string(report.Status))
	log.Info("report sent",
		zap.Int("events", len(report.EventIDs)),
		zap.Int("attempts", report.Attempts),
		zap.String("message_id", messageID))
	return report, nil
}

// GetDailyReport returns the stored report for (supplier, date).
func (j *Job) GetDailyReport(ctx context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error) {
	return j.reports.Get(ctx, supplier, date)
}

func (j *Job) existing(ctx context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error) {
	report, err := j.reports.Get(ctx, supplier, date)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return report, err
}

func (j *Job) render(supplier domain.SupplierKind, date string, d Digest) (templates.Rendered, error) {
	id, err := j.templates.Resolve(domain.EventSupplierDigest, domain.RoleSupplier, domain.ChannelEmail)
	if err != nil {
		return templates.Rendered{}, err
	}
	return j.templates.Render(id, map[string]string{
		"report_date":     date,
		"supplier":        string(supplier),
		"event_count":     strconv.Itoa(d.EventCount),
		"total_estimated": d.TotalEstimated.StringFixed(2),
		"total_actual":    d.TotalActual.StringFixed(2),
		"summary":         d.Summary,
	})
}

// fail keeps the report pending and records why.
func (j *Job) fail(ctx context.Context, report *domain.DailyReport, cause error, log *zap.Logger) {
	detail := cause.Error()
	report.Status = domain.ReportPending
	report.LastError = &detail
	if err := j.reports.Update(context.WithoutCancel(ctx), report); err != nil {
		log.Error("report failure not recorded", zap.Error(err))
	}
	j.metrics.RecordReport(string(report.Supplier), "failed")
	log.Warn("report not sent", zap.Int("attempts", report.Attempts), zap.Error(cause))
}

// Digest is the aggregate of one supplier day.
type Digest struct {
	EventCount     int
	ByKind         map[domain.EventKind]int
	TotalEstimated decimal.Decimal
	TotalActual    decimal.Decimal
	Summary        string
}

// Summarize aggregates billable events. Estimated cost is counted once per
// parts order when it is ordered; actual cost when it is received.
func Summarize(evts []domain.NotificationEvent, loc *time.Location) Digest {
	d := Digest{ByKind: map[domain.EventKind]int{}, TotalEstimated: decimal.Zero, TotalActual: decimal.Zero}
	var lines []string
	for _, e := range evts {
		d.EventCount++
		d.ByKind[e.Kind]++

		switch e.Kind {
		case domain.EventPartsOrdered:
			if v, err := decimal.NewFromString(e.Payload[events.KeyEstimatedCost]); err == nil {
				d.TotalEstimated = d.TotalEstimated.Add(v)
			}
		case domain.EventPartsReceived:
			if v, err := decimal.NewFromString(e.Payload[events.KeyActualCost]); err == nil {
				d.TotalActual = d.TotalActual.Add(v)
			}
		}

		line := fmt.Sprintf("%s  %-18s ticket %s", e.OccurredAt.In(loc).Format("15:04"), e.Kind, events.TicketRef(e.TicketID))
		if part := e.Payload[events.KeyPartDescription]; part != "" {
			line += "  " + part
		}
		lines = append(lines, line)
	}
	d.Summary = strings.Join(lines, "\n")
	return d
}
