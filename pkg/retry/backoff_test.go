package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig(attempts int) Config {
	return Config{Attempts: attempts, Initial: time.Millisecond, Max: 4 * time.Millisecond}
}

func TestWithBackoffRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), zap.NewNop(), "connect", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), zap.NewNop(), "connect", func() error {
		calls++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithBackoff(ctx, fastConfig(5), zap.NewNop(), "connect", func() error {
		calls++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
