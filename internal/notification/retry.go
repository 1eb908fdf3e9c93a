package notification

import (
	"context"
	"time"

	"github.com/spec-kit/repair-service/internal/config"
)

// RetryPolicy bounds delivery attempts per (event, recipient, channel).
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     int
}

// DefaultRetryPolicy is 3 attempts waiting 1s then 4s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, Multiplier: 4}

// PolicyFromConfig reads the retry settings.
func PolicyFromConfig(cfg config.NotificationConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff(),
		Multiplier:     cfg.BackoffMultiplier,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 1
	}
	return p
}

// Backoff is the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= time.Duration(p.Multiplier)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
