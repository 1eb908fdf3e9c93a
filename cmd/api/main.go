package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/repair-service/internal/api/http"
	"github.com/spec-kit/repair-service/internal/api/http/handlers"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/bootstrap"
	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/notification"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/report"
	"github.com/spec-kit/repair-service/internal/service"
	"github.com/spec-kit/repair-service/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Printf("api: %v", err)
		os.Exit(1)
	}
}

func run() error {
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

	return serve(ctx, cfg, logger)
}

// serve wires the service and blocks until ctx is done or a component fails.
// Every opened backend is closed on return.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	infra, err := bootstrap.Open(ctx, cfg, logger)
	defer infra.Close()
	if err != nil {
		return fmt.Errorf("initialize backends: %w", err)
	}

	metrics := observability.NewMetrics()

	dispatcher := notification.NewDispatcher(notification.Dependencies{
		Store:     infra.Store,
		Templates: infra.Templates,
		SMS:       infra.SMS,
		Email:     infra.Email,
		Locker:    infra.Locker,
		Metrics:   metrics,
		Logger:    logger,
	}, notification.PolicyFromConfig(cfg.Notification), cfg.Notification.Workers)

	bus := events.NewInMemoryBus()
	var mirror events.EventHandler
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		kafkaMirror := events.NewKafkaMirror(producer, cfg.Kafka.Topic, logger)
		defer kafkaMirror.Close() //nolint:errcheck
		mirror = kafkaMirror.Handle
	}
	notifications := service.NewNotificationService(bus, dispatcher.HandleEvent, mirror, logger)

	relay := worker.NewOutboxRelay(infra.Store.Events, bus, cfg.Relay, logger)

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:      infra.Store,
		Locker:     infra.Locker,
		Authorizer: auth.DefaultRolePolicy(),
		Metrics:    metrics,
		Logger:     logger,
		OnCommit:   relay.OnCommit,
	})

	location := bootstrap.SupplierLocation(cfg.Report)
	reportJob := report.NewJob(report.Dependencies{
		Store:     infra.Store,
		Templates: infra.Templates,
		Email:     infra.Email,
		Locker:    infra.Locker,
		Location:  location,
		Metrics:   metrics,
		Logger:    logger,
	})
	scheduler := worker.NewReportScheduler(reportJob, location, cfg.Report.Interval(), cfg.Report.LookbackDays, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)

	pingers := map[string]handlers.Pinger{}
	if infra.Postgres.PoolHandle() != nil {
		pingers["postgres"] = infra.Postgres
	}
	if infra.Redis != nil {
		pingers["redis"] = infra.Redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pingers),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Deliveries:     handlers.NewDeliveriesHandler(dispatcher),
		Reports:        handlers.NewReportsHandler(reportJob),
		Contacts:       handlers.NewContactsHandler(infra.Store.Contacts),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.StartNotificationWorker(gctx, notifications, relay) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("service stopped")
	return nil
}
