package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/repository"
)

// OutboxRelay moves committed events from the outbox onto the bus and,
// when a mirror is attached, onto the external event stream. Dispatch and
// mirroring are tracked by separate columns so a failing mirror never holds
// back notification delivery. Events of one ticket are handled in commit
// order; tickets run in parallel.
type OutboxRelay struct {
	events      repository.EventRepository
	bus         events.Bus
	mirror      events.EventHandler
	interval    time.Duration
	batch       int
	parallelism int
	wake        chan struct{}
	logger      *zap.Logger
	now         func() time.Time
}

// NewOutboxRelay builds the relay.
func NewOutboxRelay(repo repository.EventRepository, bus events.Bus, cfg config.RelayConfig, logger *zap.Logger) *OutboxRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := time.Duration(cfg.PollSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &OutboxRelay{
		events:      repo,
		bus:         bus,
		interval:    interval,
		batch:       batch,
		parallelism: 8,
		wake:        make(chan struct{}, 1),
		logger:      logger.Named("outbox"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMirror attaches the external event stream. It must be called before Run.
func (r *OutboxRelay) WithMirror(mirror events.EventHandler) *OutboxRelay {
	r.mirror = mirror
	return r
}

// Notify asks the relay to drain now. It never blocks.
func (r *OutboxRelay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// OnCommit adapts Notify to the lifecycle commit hook.
func (r *OutboxRelay) OnCommit(domain.NotificationEvent) {
	r.Notify()
}

// Run drains on every tick or wake-up until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Drain publishes one batch of undispatched events and returns how many were
// marked dispatched. A failed event holds back later events of its ticket.
// The mirror pass runs afterwards on its own batch; its failures are logged
// and retried on the next drain without touching dispatch state.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	pending, err := r.events.ListUndispatched(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	dispatched := r.pass(ctx, pending, r.bus.Publish, r.events.MarkDispatched, "publish")

	if r.mirror != nil && ctx.Err() == nil {
		unmirrored, err := r.events.ListUnmirrored(ctx, r.batch)
		if err != nil {
			return dispatched, err
		}
		r.pass(ctx, unmirrored, r.mirror, r.events.MarkMirrored, "mirror")
	}
	return dispatched, ctx.Err()
}

type markFunc func(ctx context.Context, id string, at time.Time) error

// pass hands each ticket's events to handle in order and marks the ones that
// succeeded. It returns the number marked.
func (r *OutboxRelay) pass(ctx context.Context, pending []domain.NotificationEvent, handle events.EventHandler, mark markFunc, step string) int {
	if len(pending) == 0 {
		return 0
	}
	var order []string
	byTicket := map[string][]domain.NotificationEvent{}
	for _, e := range pending {
		if _, ok := byTicket[e.TicketID]; !ok {
			order = append(order, e.TicketID)
		}
		byTicket[e.TicketID] = append(byTicket[e.TicketID], e)
	}

	counts := make([]int, len(order))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism)
	for i, ticketID := range order {
		i, ticketID := i, ticketID
		group.Go(func() error {
			counts[i] = r.handleTicket(groupCtx, byTicket[ticketID], handle, mark, step)
			return nil
		})
	}
	_ = group.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func (r *OutboxRelay) handleTicket(ctx context.Context, evts []domain.NotificationEvent, handle events.EventHandler, mark markFunc, step string) int {
	done := 0
	for _, e := range evts {
		if err := handle(ctx, e); err != nil {
			r.logger.Warn("event "+step+" failed",
				zap.String("event_id", e.ID),
				zap.String("ticket_id", e.TicketID),
				zap.Error(err))
			return done
		}
		if err := mark(ctx, e.ID, r.now()); err != nil {
			r.logger.Warn("event "+step+" not recorded", zap.String("event_id", e.ID), zap.Error(err))
			return done
		}
		done++
	}
	return done
}
