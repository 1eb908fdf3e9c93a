package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
)

// NotificationService connects the event bus to the dispatcher and holds the
// optional Kafka mirror, which the outbox relay drives on its own pass.
type NotificationService struct {
	bus      events.Bus
	dispatch events.EventHandler
	mirror   events.EventHandler
	logger   *zap.Logger
}

// NewNotificationService creates the service. mirror may be nil.
func NewNotificationService(bus events.Bus, dispatch, mirror events.EventHandler, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		bus:      bus,
		dispatch: dispatch,
		mirror:   mirror,
		logger:   logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.bus == nil {
		return
	}
	if n.dispatch != nil {
		n.bus.SubscribeAll(n.handleDispatch)
	}
}

func (n *NotificationService) handleDispatch(ctx context.Context, event domain.NotificationEvent) error {
	n.logger.Debug("dispatching event",
		zap.String("event_id", event.ID),
		zap.String("ticket_id", event.TicketID),
		zap.String("kind", string(event.Kind)))
	return n.dispatch(ctx, event)
}

// Mirror returns the event stream handler, or nil when mirroring is off.
func (n *NotificationService) Mirror() events.EventHandler {
	return n.mirror
}
