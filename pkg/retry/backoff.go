package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config bounds a retry loop. The delay doubles each attempt from Initial up
// to Max, with ±15% jitter to spread reconnect storms.
type Config struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultConfig covers external connection establishment: ten attempts
// spanning roughly two minutes.
func DefaultConfig() Config {
	return Config{
		Attempts: 10,
		Initial:  2 * time.Second,
		Max:      60 * time.Second,
	}
}

// WithBackoff runs fn until it succeeds, the attempt budget is spent, or ctx
// is cancelled.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	delay := cfg.Initial
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}
		if attempt >= cfg.Attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempt, err)
		}

		wait := jitter(delay)
		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		case <-time.After(wait):
		}

		delay *= 2
		if delay > cfg.Max {
			delay = cfg.Max
		}
	}
}

func jitter(d time.Duration) time.Duration {
	f := float64(d)
	return time.Duration(f + (rand.Float64()-0.5)*0.3*f)
}
