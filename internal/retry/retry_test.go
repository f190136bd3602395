package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	got, attempts, err := Do(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, attempts)
}

func TestDo_TransientFailureIsTransparent(t *testing.T) {
	calls := 0
	got, attempts, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	calls := 0
	_, attempts, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom " + string(rune('0'+calls)))
	})
	require.Error(t, err)
	assert.Equal(t, "boom 3", err.Error())
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsEarly(t *testing.T) {
	errAuth := errors.New("401 bad credentials")
	calls := 0
	_, attempts, err := Do(context.Background(), fastConfig(5), func(context.Context) (int, error) {
		calls++
		return 0, errAuth
	}, WithRetryable(func(err error) bool { return !errors.Is(err, errAuth) }))

	require.ErrorIs(t, err, errAuth)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_LogsEachRetry(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	calls := 0
	_, err := Run(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("flaky")
		}
		return nil
	}, WithLogger(zap.New(core)), WithOperation("git push"))

	require.NoError(t, err)
	entries := logs.FilterMessage("retrying after failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "git push", entries[0].ContextMap()["operation"])
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2}

	calls := 0
	_, _, err := Do(ctx, cfg, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("push rejected")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "push rejected")
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), c)

	c = Config{MaxAttempts: 2, InitialBackoff: 5 * time.Second, MaxBackoff: time.Second, Multiplier: 0.5}
	c.ApplyDefaults()
	assert.Equal(t, 2, c.MaxAttempts)
	assert.Equal(t, 5*time.Second, c.MaxBackoff)
	assert.Equal(t, 2.0, c.Multiplier)
}
