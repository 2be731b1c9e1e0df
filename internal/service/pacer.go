package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces dispatch starts at least delay apart across every worker of a run.
// The token bucket does the waiting; the monotonic guard catches the rounding of
// rate.Every so two stamps are never closer than delay.
type Pacer struct {
	delay   time.Duration
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// NewPacer returns a pacer for delay. A zero delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	p := &Pacer{delay: delay}
	if delay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return p
}

// Wait blocks until the next dispatch may start and returns its start stamp.
func (p *Pacer) Wait(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if p.limiter == nil {
		return time.Now(), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	now := time.Now()
	if !p.last.IsZero() {
		if gap := now.Sub(p.last); gap < p.delay {
			timer := time.NewTimer(p.delay - gap)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return time.Time{}, ctx.Err()
			}
			now = time.Now()
		}
	}
	p.last = now
	return now, nil
}
