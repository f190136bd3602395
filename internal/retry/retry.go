// Package retry provides bounded exponential retry for flaky network
// operations such as branch pushes and pull request merges.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/config"
)

// Config bounds a retried operation.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the randomization factor applied to each delay (0 disables).
	Jitter float64
}

// DefaultConfig returns 3 attempts starting at 1s and doubling.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}
}

// FromAppConfig converts a config section.
func FromAppConfig(rc config.RetryConfig) Config {
	return Config{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: rc.InitialBackoff.Duration(),
		MaxBackoff:     rc.MaxBackoff.Duration(),
		Multiplier:     rc.Multiplier,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
}

type options struct {
	logger    *zap.Logger
	operation string
	retryable func(error) bool
}

// Option customizes a single Do call.
type Option func(*options)

// WithLogger logs each failed attempt at warn level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOperation names the operation in log entries.
func WithOperation(name string) Option {
	return func(o *options) { o.operation = name }
}

// WithRetryable stops retrying as soon as pred returns false for an error.
func WithRetryable(pred func(error) bool) Option {
	return func(o *options) { o.retryable = pred }
}

// Do runs op until it succeeds or cfg.MaxAttempts is exhausted and returns
// the last error. attempts is the number of times op was invoked.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error), opts ...Option) (result T, attempts int, err error) {
	cfg.ApplyDefaults()

	o := options{logger: zap.NewNop(), operation: "operation"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialBackoff,
		RandomizationFactor: cfg.Jitter,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxBackoff,
	}
	eb.Reset()

	var lastErr error
	operation := func() (T, error) {
		attempts++
		res, opErr := op(ctx)
		if opErr == nil {
			return res, nil
		}
		lastErr = opErr
		if o.retryable != nil && !o.retryable(opErr) {
			return res, backoff.Permanent(opErr)
		}
		return res, opErr
	}

	notify := func(opErr error, wait time.Duration) {
		o.logger.Warn("retrying after failure",
			zap.String("operation", o.operation),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(opErr),
		)
	}

	result, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		// A cancelled wait reports the context error; keep the operation's.
		if lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && !errors.Is(lastErr, err) {
			err = errors.Join(err, lastErr)
		}
		o.logger.Error("operation failed after retries",
			zap.String("operation", o.operation),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return result, attempts, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, cfg Config, op func(context.Context) error, opts ...Option) (int, error) {
	_, attempts, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return attempts, err
}
