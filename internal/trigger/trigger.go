// Package trigger holds the periodic jobs run next to the campaign worker:
// operational checks that raise alerts, the cadence-gated campaign run and the
// calendar teaser sync.
//
// Every trigger is safe to run on every tick. When its condition does not hold
// it does nothing, and when the condition holds again within the same logical
// period (same day, same deploy, same teaser) it does not repeat its effect, so
// an external scheduler that double-fires is harmless.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-orchestrator/internal/alert"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
)

// Result reports what one invocation did.
type Result struct {
	Fired  bool   `json:"fired"`
	Detail string `json:"detail,omitempty"`
}

// Trigger is one periodic function.
type Trigger interface {
	Name() string
	Run(ctx context.Context, now time.Time) (Result, error)
}

// Alerter is what triggers raise alerts through; *alert.Notifier implements it.
type Alerter interface {
	Send(ctx context.Context, a alert.Alert) error
}

var (
	ErrUnknownTrigger = errors.New("unknown trigger")
	ErrBusy           = errors.New("trigger already running")
)

type entry struct {
	trigger  Trigger
	interval time.Duration
	running  sync.Mutex
}

// Scheduler runs each registered trigger on its own ticker. A trigger never
// overlaps itself: a tick or RunOnce that finds it running is skipped.
type Scheduler struct {
	entries map[string]*entry
	metrics *metrics.Collector
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates an empty scheduler. collector may be nil.
func NewScheduler(collector *metrics.Collector, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		metrics: collector,
		logger:  logger.With().Str("component", "trigger-scheduler").Logger(),
		now:     time.Now,
	}
}

// Register adds t to run every interval. Registering a name twice replaces the first.
func (s *Scheduler) Register(t Trigger, interval time.Duration) {
	s.entries[t.Name()] = &entry{trigger: t, interval: interval}
}

// Names lists registered triggers in sorted order.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs every trigger on its interval until ctx is cancelled. Trigger
// errors are logged and never stop the loops.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.Names() {
		name := name // per-iteration copy (go directive is 1.21)
		e := s.entries[name]
		if e.interval <= 0 {
			continue
		}
		g.Go(func() error {
			ticker := time.NewTicker(e.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := s.invoke(ctx, e); err != nil && !errors.Is(err, ErrBusy) {
						s.logger.Error().Err(err).Str("trigger", name).Msg("trigger failed")
					}
				}
			}
		})
	}
	s.logger.Info().Strs("triggers", s.Names()).Msg("trigger scheduler started")
	return g.Wait()
}

// RunOnce invokes one trigger now, e.g. from an HTTP call or an external cron.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (Result, error) {
	e, ok := s.entries[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	return s.invoke(ctx, e)
}

func (s *Scheduler) invoke(ctx context.Context, e *entry) (Result, error) {
	name := e.trigger.Name()
	if !e.running.TryLock() {
		s.logger.Debug().Str("trigger", name).Msg("still running, skipping")
		return Result{}, fmt.Errorf("%w: %s", ErrBusy, name)
	}
	defer e.running.Unlock()

	start := time.Now()
	res, err := e.trigger.Run(ctx, s.now())
	if s.metrics != nil {
		s.metrics.Record("trigger.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"trigger": name})
		if err != nil {
			s.metrics.Increment("trigger.error", map[string]string{"trigger": name})
		} else if res.Fired {
			s.metrics.Increment("trigger.fired", map[string]string{"trigger": name})
		}
	}
	if err != nil {
		return res, fmt.Errorf("trigger %s: %w", name, err)
	}
	s.logger.Debug().Str("trigger", name).Bool("fired", res.Fired).Str("detail", res.Detail).Msg("trigger ran")
	return res, nil
}
