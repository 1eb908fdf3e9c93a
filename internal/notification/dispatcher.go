// Package notification fans committed events out to every interested party
// over SMS and email, recording each delivery attempt.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spec-kit/repair-service/internal/channels"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/lock"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/templates"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// Templates resolves and renders message templates.
type Templates interface {
	Resolve(kind domain.EventKind, role domain.Role, channel domain.Channel) (templates.TemplateID, error)
	Render(id templates.TemplateID, payload map[string]string) (templates.Rendered, error)
}

// Dependencies are the collaborators of a Dispatcher.
type Dependencies struct {
	Store     repository.Store
	Templates Templates
	SMS       channels.SMSSender
	Email     channels.EmailSender
	Locker    lock.Locker
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Dispatcher delivers notification events.
type Dispatcher struct {
	tickets    repository.TicketRepository
	events     repository.EventRepository
	contacts   repository.ContactRepository
	deliveries repository.DeliveryRepository
	templates  Templates
	sms        channels.SMSSender
	email      channels.EmailSender
	locker     lock.Locker
	metrics    *observability.Metrics
	logger     *zap.Logger
	rules      []RecipientRule
	policy     RetryPolicy
	workers    *semaphore.Weighted
	now        func() time.Time
}

// NewDispatcher builds a dispatcher. workers bounds concurrent channel calls
// across every in-flight dispatch.
func NewDispatcher(deps Dependencies, policy RetryPolicy, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Dispatcher{
		tickets:    deps.Store.Tickets,
		events:     deps.Store.Events,
		contacts:   deps.Store.Contacts,
		deliveries: deps.Store.Deliveries,
		templates:  deps.Templates,
		sms:        deps.SMS,
		email:      deps.Email,
		locker:     locker,
		metrics:    deps.Metrics,
		logger:     logger.Named("dispatcher"),
		rules:      DefaultRules,
		policy:     policy,
		workers:    semaphore.NewWeighted(int64(workers)),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithRules replaces the recipient table.
func (d *Dispatcher) WithRules(rules []RecipientRule) *Dispatcher {
	d.rules = rules
	return d
}

type job struct {
	recipient Recipient
	address   string
	channel   domain.Channel
	message   templates.Rendered
}

// Dispatch delivers the stored event to every resolved recipient and returns
// the event's full attempt history. Per-recipient failures are recorded, not
// returned; only a missing event or ticket fails the call.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	event, err := d.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := d.deliver(ctx, *event); err != nil {
		return nil, err
	}
	return d.deliveries.ListByEvent(ctx, eventID)
}

// HandleEvent is the bus subscriber form of Dispatch.
func (d *Dispatcher) HandleEvent(ctx context.Context, event domain.NotificationEvent) error {
	return d.deliver(ctx, event)
}

// DeliveryHistory lists attempts for one event.
func (d *Dispatcher) DeliveryHistory(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	if _, err := d.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return d.deliveries.ListByEvent(ctx, eventID)
}

// TicketDeliveryHistory lists attempts for every event of a ticket.
func (d *Dispatcher) TicketDeliveryHistory(ctx context.Context, ticketID string) ([]domain.DeliveryAttempt, error) {
	if _, err := d.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	return d.deliveries.ListByTicket(ctx, ticketID)
}

func (d *Dispatcher) deliver(ctx context.Context, event domain.NotificationEvent) error {
	ticket, err := d.tickets.GetByID(ctx, event.TicketID)
	if err != nil {
		return err
	}

	jobs := d.plan(ctx, event, ticket)
	if len(jobs) == 0 {
		d.logger.Debug("no deliverable recipients", zap.String("event_id", event.ID), zap.String("kind", string(event.Kind)))
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		group.Go(func() error {
			d.deliverOne(groupCtx, event, j)
			return nil
		})
	}
	_ = group.Wait()
	return ctx.Err()
}

// plan resolves recipients, addresses and templates and renders each message.
func (d *Dispatcher) plan(ctx context.Context, event domain.NotificationEvent, ticket *domain.ServiceTicket) []job {
	var jobs []job
	for _, recipient := range ResolveRecipients(d.rules, event.Kind, ticket) {
		contact, err := d.contacts.Get(ctx, recipient.Role, recipient.Ref)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				d.logger.Warn("contact lookup failed",
					zap.String("event_id", event.ID),
					zap.String("role", string(recipient.Role)),
					zap.Error(err))
			}
			continue
		}

		payload := make(map[string]string, len(event.Payload)+1)
		for k, v := range event.Payload {
			payload[k] = v
		}
		payload[events.KeyRecipientName] = contact.Name

		for _, target := range addresses(contact) {
			id, err := d.templates.Resolve(event.Kind, recipient.Role, target.channel)
			if err != nil {
				continue
			}
			msg, err := d.templates.Render(id, payload)
			if err != nil {
				reason := apperrors.CodeInternal
				if de := apperrors.ToDomainError(err); de != nil {
					reason = de.Code
				}
				d.metrics.RecordRenderFailure(reason)
				d.logger.Warn("render failed",
					zap.String("event_id", event.ID),
					zap.String("template", string(id)),
					zap.String("role", string(recipient.Role)),
					zap.Error(err))
				continue
			}
			jobs = append(jobs, job{
				recipient: recipient,
				address:   target.address,
				channel:   target.channel,
				message:   msg,
			})
		}
	}
	return jobs
}

type address struct {
	channel domain.Channel
	address string
}

func addresses(c *domain.Contact) []address {
	var out []address
	if c.Phone != "" {
		out = append(out, address{domain.ChannelSMS, c.Phone})
	}
	if c.Email != "" {
		out = append(out, address{domain.ChannelEmail, c.Email})
	}
	return out
}

// deliverOne drives retries for a single triple under its lock.
func (d *Dispatcher) deliverOne(ctx context.Context, event domain.NotificationEvent, j job) {
	log := d.logger.With(
		zap.String("event_id", event.ID),
		zap.String("recipient", j.address),
		zap.String("role", string(j.recipient.Role)),
		zap.String("channel", string(j.channel)),
	)

	release, err := d.locker.Lock(ctx, lock.DeliveryKey(event.ID, j.address, string(j.channel)))
	if err != nil {
		log.Warn("delivery lock not acquired", zap.Error(err))
		return
	}
	defer release()

	prior, err := d.deliveries.ListByEvent(ctx, event.ID)
	if err != nil {
		log.Warn("delivery history unavailable", zap.Error(err))
		return
	}
	used := 0
	for _, a := range prior {
		if a.Recipient != j.address || a.Channel != j.channel {
			continue
		}
		if a.Outcome == domain.DeliverySent || a.Permanent {
			return
		}
		used++
	}
	if used >= d.policy.MaxAttempts {
		return
	}

	for n := used + 1; n <= d.policy.MaxAttempts; n++ {
		if n > used+1 {
			if err := sleep(ctx, d.policy.Backoff(n-1)); err != nil {
				log.Info("delivery interrupted", zap.Int("next_attempt", n), zap.Error(err))
				return
			}
		}
		done, err := d.attempt(ctx, event, j, n, log)
		if err != nil {
			log.Warn("delivery attempt not recorded", zap.Int("attempt", n), zap.Error(err))
			return
		}
		if done {
			return
		}
	}
	log.Error("delivery failed after retry budget", zap.Int("attempts", d.policy.MaxAttempts))
}

// attempt records and performs one send. done is true when no retry is wanted.
func (d *Dispatcher) attempt(ctx context.Context, event domain.NotificationEvent, j job, n int, log *zap.Logger) (bool, error) {
	record := &domain.DeliveryAttempt{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		Recipient:   j.address,
		Role:        j.recipient.Role,
		Channel:     j.channel,
		Body:        j.message.Body,
		Attempt:     n,
		Outcome:     domain.DeliveryPending,
		AttemptedAt: d.now(),
	}
	if err := d.workers.Acquire(ctx, 1); err != nil {
		return true, err
	}
	defer d.workers.Release(1)

	if err := d.deliveries.Create(ctx, record); err != nil {
		return true, err
	}

	messageID, sendErr := d.send(ctx, j)
	if sendErr == nil {
		record.Outcome = domain.DeliverySent
		record.MessageID = messageID
	} else {
		detail := sendErr.Error()
		record.Outcome = domain.DeliveryFailed
		record.ErrorDetail = &detail
		record.Permanent = !apperrors.IsTransient(sendErr)
	}

	// The send already happened; the outcome must be stored even if ctx is done.
	if err := d.deliveries.Complete(context.WithoutCancel(ctx), record); err != nil {
		return true, err
	}
	d.metrics.RecordDelivery(string(j.channel), string(record.Outcome))

	switch {
	case sendErr == nil:
		log.Info("delivered", zap.Int("attempt", n), zap.String("message_id", messageID))
		return true, nil
	case record.Permanent:
		log.Error("delivery rejected permanently", zap.Int("attempt", n), zap.Error(sendErr))
		return true, nil
	default:
		log.Warn("delivery failed, will retry", zap.Int("attempt", n), zap.Error(sendErr))
		return false, nil
	}
}

func (d *Dispatcher) send(ctx context.Context, j job) (string, error) {
	switch j.channel {
	case domain.ChannelSMS:
		if d.sms == nil {
			return "", apperrors.NewChannelPermanent("sms", errors.New("no sms adapter configured"))
		}
		return d.sms.SendSMS(ctx, j.address, j.message.Body)
	case domain.ChannelEmail:
		if d.email == nil {
			return "", apperrors.NewChannelPermanent("email", errors.New("no email adapter configured"))
		}
		return d.email.SendEmail(ctx, j.address, j.message.Subject, j.message.Body)
	default:
		return "", apperrors.NewChannelPermanent(string(j.channel), errors.New("unknown channel"))
	}
}
