package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// BreakerConfig tunes the circuit breaker in front of a transport.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // probes allowed while half-open
	Interval     time.Duration // closed-state count reset
	Timeout      time.Duration // open -> half-open
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig opens after 60% transient failures over at least 10 sends.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "mail-transport",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Breaker stops hammering a provider that keeps failing. While the circuit is
// open every send fails fast as rate limited, which the orchestrator retries later.
type Breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps next. Permanent failures (bad recipients) do not count
// against the provider.
func NewBreaker(next Transport, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	log := logger.With().Str("component", "transport-breaker").Str("breaker", cfg.Name).Logger()

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				log.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio).Msg("opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || appErrors.KindOf(err) == appErrors.KindPermanent
		},
	})

	return &Breaker{next: next, cb: cb}
}

// Send forwards to the wrapped transport unless the circuit is open.
func (b *Breaker) Send(ctx context.Context, job model.EmailJob) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, job)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.RateLimited(fmt.Errorf("send job %s: %w", job.ID, err))
	}
	return err
}

// State reports the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
