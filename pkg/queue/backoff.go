package queue

import (
	"context"
	"time"
)

// BackoffConfig controls the delay between dequeue attempts after broker errors
type BackoffConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultBackoffConfig returns the default dequeue backoff
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// backoff tracks consecutive failures of one dispatcher loop
type backoff struct {
	config   BackoffConfig
	failures int
}

func newBackoff(config BackoffConfig) *backoff {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultBackoffConfig().InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.Multiplier < 1 {
		config.Multiplier = DefaultBackoffConfig().Multiplier
	}
	return &backoff{config: config}
}

// next returns the delay for the current failure and advances the counter
func (b *backoff) next() time.Duration {
	d := calculateBackoff(b.failures, b.config)
	b.failures++
	return d
}

func (b *backoff) reset() {
	b.failures = 0
}

// wait sleeps for the next delay. Returns false if ctx ends first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.next())
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff returns InitialBackoff * Multiplier^attempt, capped at MaxBackoff
func calculateBackoff(attempt int, config BackoffConfig) time.Duration {
	backoff := float64(config.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= config.Multiplier
		if backoff >= float64(config.MaxBackoff) {
			return config.MaxBackoff
		}
	}

	return time.Duration(backoff)
}
