package engine

import (
	"math"
	"time"
)

// NextBackoffDelay returns the retry delay after failure N (1-based).
func NextBackoffDelay(cfg BackoffConfig, failure int) time.Duration {
	if failure <= 1 || cfg.InitialDelay <= 0 {
		return cfg.InitialDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(failure-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Backoff tracks one failure streak. Not safe for concurrent use; Conn
// guards it with its mutex.
type Backoff struct {
	config   BackoffConfig
	failures int
}

// NewBackoff creates a backoff with no recorded failures
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{config: cfg}
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.failures++
	return NextBackoffDelay(b.config, b.failures)
}

// Failures returns the length of the current streak.
func (b *Backoff) Failures() int {
	return b.failures
}

// Reset ends the streak after a successful connect.
func (b *Backoff) Reset() {
	b.failures = 0
}
