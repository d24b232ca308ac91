package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig controls when a circuit opens.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. Default: 5.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the circuit stays open. Default: 30s.
	OpenTimeout time.Duration

	// HalfOpenProbes is the number of calls allowed while half-open. Default: 1.
	HalfOpenProbes uint32

	// IsFailure decides whether an error counts against the breaker. Errors
	// it rejects (e.g. a normal "not found") leave the counts untouched.
	// Default: every non-nil error counts.
	IsFailure func(err error) bool
}

// DefaultBreakerConfig returns the breaker policy used for the registry.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenProbes:      1,
	}
}

// Breaker guards one external service.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreaker builds a named breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(error) bool { return true }
	}

	threshold := cfg.ConsecutiveFailures
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenProbes,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state change",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})}
}

// State returns the current breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Call runs fn through b. A nil breaker calls fn directly.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	var out T
	_, err := b.cb.Execute(func() (any, error) {
		v, err := fn(ctx)
		out = v
		return nil, err
	})
	return out, err
}

// IsCircuitOpen reports whether err was produced by an open or saturated
// breaker rather than the guarded call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
