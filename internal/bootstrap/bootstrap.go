// Package bootstrap builds the infrastructure shared by the service binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/channels"
	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/lock"
	"github.com/spec-kit/repair-service/internal/persistence"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/repository/memory"
	"github.com/spec-kit/repair-service/internal/templates"
)

// Infra holds the storage, lock and channel backends selected by config.
type Infra struct {
	Postgres  *persistence.Postgres
	Redis     *persistence.Redis
	Store     repository.Store
	Locker    lock.Locker
	Templates *templates.Registry
	SMS       channels.SMSSender
	Email     channels.EmailSender
}

// Open connects every backend. Close must be called even on partial failure.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return infra, fmt.Errorf("connect postgres: %w", err)
	}
	infra.Postgres = pg
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
				return infra, fmt.Errorf("run migrations: %w", err)
			}
		}
		infra.Store = repository.NewPostgresStore(pool)
	} else {
		logger.Warn("using in-memory store; data is lost on restart")
		infra.Store = memory.NewStore().Repositories()
	}

	switch cfg.Lock.Backend {
	case "redis":
		rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return infra, err
		}
		infra.Redis = rdb
		infra.Locker = lock.NewRedisLocker(infra.Redis.Client, cfg.Lock.LockTTL(), logger)
	default:
		infra.Locker = lock.NewKeyedMutex()
	}

	registry, err := templates.Load(cfg.Notification.TemplateCatalog,
		templates.WithLengthLimit(domain.ChannelSMS, cfg.Notification.SMSMaxLength))
	if err != nil {
		return infra, fmt.Errorf("load templates: %w", err)
	}
	infra.Templates = registry

	stub := channels.NewLogSender(logger)
	if cfg.SMS.GatewayURL != "" {
		timeout := time.Duration(cfg.SMS.TimeoutSeconds) * time.Second
		infra.SMS = channels.NewHTTPSMSGateway(cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.SenderID, timeout, logger)
	} else {
		logger.Warn("SMS_GATEWAY_URL not set; SMS messages are only logged")
		infra.SMS = stub
	}
	if cfg.SMTP.Host != "" {
		infra.Email = channels.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		logger.Warn("SMTP_HOST not set; email messages are only logged")
		infra.Email = stub
	}

	return infra, nil
}

// SupplierLocation resolves a supplier's configured time zone.
func SupplierLocation(cfg config.ReportConfig) func(domain.SupplierKind) *time.Location {
	return func(supplier domain.SupplierKind) *time.Location {
		return cfg.Location(string(supplier))
	}
}

// Close releases connections.
func (i *Infra) Close() {
	if i == nil {
		return
	}
	i.Redis.Close()
	i.Postgres.Close()
}
