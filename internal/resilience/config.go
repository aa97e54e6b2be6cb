package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// A check polls every 500ms, so a dead comparator should fail fast
	// instead of stalling every poll.
	ComparatorThreshold         = 3
	ComparatorResetTimeout      = 10 * time.Second
	ComparatorHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before the half-open probe
	HalfOpenSuccesses int           // probe successes needed to close
	// Trips decides which errors count as failures. Nil counts every error.
	Trips func(error) bool
}

// ComparatorConfig returns settings for the remote comparator breaker. Only
// transport-level gRPC failures trip it; a comparator that answers with a
// verdict error is healthy.
func ComparatorConfig() Config {
	return Config{
		Threshold:         ComparatorThreshold,
		ResetTimeout:      ComparatorResetTimeout,
		HalfOpenSuccesses: ComparatorHalfOpenSuccesses,
		Trips:             IsRetryableGRPC,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Trips == nil {
		c.Trips = func(error) bool { return true }
	}
	return c
}
