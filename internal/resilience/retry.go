// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter

	// Comparator calls sit inside a polling loop that already retries
	// mismatches, so transport retries stay short.
	ComparatorMaxRetries = 2
	ComparatorBaseDelay  = 200 * time.Millisecond
	ComparatorMaxDelay   = 2 * time.Second

	// DevTools endpoints often come up a moment after the browser.
	DialMaxRetries = 5
	DialBaseDelay  = 250 * time.Millisecond
	DialMaxDelay   = 4 * time.Second
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	Op           string // names the operation in log lines
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// ComparatorRetryConfig returns settings for remote comparator calls.
func ComparatorRetryConfig() RetryConfig {
	return RetryConfig{
		Op:           "compare",
		MaxRetries:   ComparatorMaxRetries,
		BaseDelay:    ComparatorBaseDelay,
		MaxDelay:     ComparatorMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryableGRPC,
	}
}

// DialRetryConfig returns settings for connecting to a browser endpoint.
// Every dial error is retried.
func DialRetryConfig() RetryConfig {
	return RetryConfig{
		Op:           "dial devtools",
		MaxRetries:   DialMaxRetries,
		BaseDelay:    DialBaseDelay,
		MaxDelay:     DialMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  func(err error) bool { return err != nil },
	}
}

// IsRetryableGRPC checks if a gRPC error is worth retrying.
func IsRetryableGRPC(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return true // Non-gRPC error, retry
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// Retry calls fn with exponential backoff until it succeeds or fails with an
// error IsRetryable rejects. After MaxRetries retries it returns the last error.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	log := trace.Logger(ctx).With("op", cfg.Op)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		switch {
		case err == nil:
			if attempt > 0 {
				log.Debug("succeeded after retries", "attempts", attempt+1)
			}
			return nil
		case !cfg.IsRetryable(err):
			return err
		case attempt == cfg.MaxRetries:
			log.Warn("giving up", "attempts", attempt+1, "error", err)
			return err
		}

		delay := backoffDelay(cfg, attempt)
		log.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay calculates exponential backoff with jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6) // Cap shift to prevent overflow
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// Add jitter: delay * (1 +- jitterFactor/2)
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryableGRPC
	}
	if c.Op == "" {
		c.Op = "call"
	}
	return c
}
