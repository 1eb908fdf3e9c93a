package worker

import (
	"context"

	"github.com/spec-kit/repair-service/internal/service"
)

// StartNotificationWorker subscribes the notification handlers and runs the
// outbox relay until ctx is done. Handlers are registered before the first
// drain so no event is marked dispatched without a consumer.
func StartNotificationWorker(ctx context.Context, notifications *service.NotificationService, relay *OutboxRelay) error {
	if notifications != nil {
		notifications.RegisterHandlers()
		if mirror := notifications.Mirror(); mirror != nil {
			relay.WithMirror(mirror)
		}
	}
	return relay.Run(ctx)
}
