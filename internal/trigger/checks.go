package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-orchestrator/internal/alert"
	"github.com/unclebandit/outreach-orchestrator/internal/cache"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
)

const day = 24 * time.Hour

// seenCache lazily creates a check's de-duplication cache.
func seenCache(c **cache.Cache[bool]) *cache.Cache[bool] {
	if *c == nil {
		*c = cache.New[bool]()
	}
	return *c
}

// Deadline is a dated obligation someone must act on.
type Deadline struct {
	ID      string    `db:"id" json:"id"`
	Title   string    `db:"title" json:"title"`
	TitleES string    `db:"title_es" json:"title_es"`
	Due     time.Time `db:"due_at" json:"due_at"`
	URL     string    `db:"url" json:"url,omitempty"`
}

// DeadlineSource lists deadlines that are not yet past.
type DeadlineSource interface {
	UpcomingDeadlines(ctx context.Context, now time.Time) ([]Deadline, error)
}

// DeadlineCheck alerts on deadlines due within Window, at most once per
// deadline per day.
type DeadlineCheck struct {
	Source  DeadlineSource
	Alerter Alerter
	Window  time.Duration
	Seen    *cache.Cache[bool]
}

func (c *DeadlineCheck) Name() string { return "deadline-check" }

func (c *DeadlineCheck) Run(ctx context.Context, now time.Time) (Result, error) {
	seen := seenCache(&c.Seen)
	window := c.Window
	if window <= 0 {
		window = 3 * day
	}
	deadlines, err := c.Source.UpcomingDeadlines(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("list deadlines: %w", err)
	}

	alerted := 0
	for _, d := range deadlines {
		left := d.Due.Sub(now)
		if left < 0 || left > window {
			continue
		}
		key := "deadline:" + d.ID + ":" + now.Format("2006-01-02")
		if _, dup := seen.Get(key); dup {
			continue
		}

		titleES := d.TitleES
		if titleES == "" {
			titleES = d.Title
		}
		a := alert.Alert{
			Type:     alert.TypeDeadline,
			Severity: deadlineSeverity(left),
			Message: alert.Message{
				EN: fmt.Sprintf("%s is due %s (%s left)", d.Title, d.Due.Format(time.RFC1123), left.Round(time.Minute)),
				ES: fmt.Sprintf("%s vence el %s (quedan %s)", titleES, d.Due.Format(time.RFC1123), left.Round(time.Minute)),
			},
			ActionURL: d.URL,
		}
		if err := c.Alerter.Send(ctx, a); err != nil {
			return Result{Fired: alerted > 0, Detail: fmt.Sprintf("%d alerted", alerted)}, err
		}
		seen.Set(key, true, day)
		alerted++
	}
	return Result{Fired: alerted > 0, Detail: fmt.Sprintf("%d alerted", alerted)}, nil
}

func deadlineSeverity(left time.Duration) alert.Severity {
	switch {
	case left <= day:
		return alert.SeverityHigh
	case left <= 3*day:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}

// DeployStatus is the state of the most recent deployment.
type DeployStatus struct {
	ID      string    `db:"id" json:"id"`
	Service string    `db:"service" json:"service"`
	State   string    `db:"state" json:"state"`
	URL     string    `db:"url" json:"url,omitempty"`
	At      time.Time `db:"created_at" json:"created_at"`
}

// DeployFailed is the State of a failed deployment.
const DeployFailed = "failed"

// DeploySource reports the latest deployment, or nil when there is none.
type DeploySource interface {
	LatestDeploy(ctx context.Context) (*DeployStatus, error)
}

// DeployCheck alerts once per failed deployment.
type DeployCheck struct {
	Source  DeploySource
	Alerter Alerter
	Seen    *cache.Cache[bool]
}

func (c *DeployCheck) Name() string { return "deploy-check" }

func (c *DeployCheck) Run(ctx context.Context, now time.Time) (Result, error) {
	seen := seenCache(&c.Seen)
	d, err := c.Source.LatestDeploy(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("latest deploy: %w", err)
	}
	if d == nil || d.State != DeployFailed {
		return Result{}, nil
	}
	key := "deploy:" + d.ID
	if _, dup := seen.Get(key); dup {
		return Result{Detail: "already alerted"}, nil
	}

	err = c.Alerter.Send(ctx, alert.Alert{
		Type:     alert.TypeDeploy,
		Severity: alert.SeverityHigh,
		Message: alert.Message{
			EN: fmt.Sprintf("Deploy %s of %s failed", d.ID, d.Service),
			ES: fmt.Sprintf("El despliegue %s de %s falló", d.ID, d.Service),
		},
		ActionURL: d.URL,
	})
	if err != nil {
		return Result{}, err
	}
	seen.Set(key, true, 7*day)
	return Result{Fired: true, Detail: "deploy " + d.ID}, nil
}

// BounceRateCheck alerts when the share of failed sends in the metrics window
// exceeds Threshold, once per hour.
type BounceRateCheck struct {
	Metrics    *metrics.Collector
	Alerter    Alerter
	Threshold  float64
	MinSamples int
	Seen       *cache.Cache[bool]
}

func (c *BounceRateCheck) Name() string { return "bounce-rate-check" }

func (c *BounceRateCheck) Run(ctx context.Context, now time.Time) (Result, error) {
	seen := seenCache(&c.Seen)
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = 0.05
	}
	minSamples := c.MinSamples
	if minSamples <= 0 {
		minSamples = 20
	}

	summary := c.Metrics.Summary()
	sent := summary["email.sent"].Count
	failed := summary["email.failed"].Count
	total := sent + failed
	if total < minSamples {
		return Result{Detail: fmt.Sprintf("%d samples", total)}, nil
	}
	rate := float64(failed) / float64(total)
	if rate <= threshold {
		return Result{Detail: fmt.Sprintf("bounce rate %.1f%%", rate*100)}, nil
	}

	key := "bounce-rate:" + now.Truncate(time.Hour).Format(time.RFC3339)
	if _, dup := seen.Get(key); dup {
		return Result{Detail: "already alerted"}, nil
	}

	severity := alert.SeverityMedium
	if rate > 2*threshold {
		severity = alert.SeverityHigh
	}
	err := c.Alerter.Send(ctx, alert.Alert{
		Type:     alert.TypeBounceRate,
		Severity: severity,
		Message: alert.Message{
			EN: fmt.Sprintf("Bounce rate is %.1f%% (%d of %d recent sends failed)", rate*100, failed, total),
			ES: fmt.Sprintf("La tasa de rebote es %.1f%% (%d de %d envíos recientes fallaron)", rate*100, failed, total),
		},
	})
	if err != nil {
		return Result{}, err
	}
	seen.Set(key, true, time.Hour)
	return Result{Fired: true, Detail: fmt.Sprintf("bounce rate %.1f%%", rate*100)}, nil
}

// BacklogSource counts direct messages still waiting for a reply.
type BacklogSource interface {
	PendingDMs(ctx context.Context) (int, error)
}

// DMBacklogCheck alerts when the unanswered DM count exceeds Threshold, once per day.
type DMBacklogCheck struct {
	Source    BacklogSource
	Alerter   Alerter
	Threshold int
	Seen      *cache.Cache[bool]
}

func (c *DMBacklogCheck) Name() string { return "dm-backlog-check" }

func (c *DMBacklogCheck) Run(ctx context.Context, now time.Time) (Result, error) {
	seen := seenCache(&c.Seen)
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = 25
	}
	pending, err := c.Source.PendingDMs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("count pending DMs: %w", err)
	}
	if pending <= threshold {
		return Result{Detail: fmt.Sprintf("%d pending", pending)}, nil
	}

	key := "dm-backlog:" + now.Format("2006-01-02")
	if _, dup := seen.Get(key); dup {
		return Result{Detail: "already alerted"}, nil
	}
	err = c.Alerter.Send(ctx, alert.Alert{
		Type:     alert.TypeDMBacklog,
		Severity: alert.SeverityLow,
		Message: alert.Message{
			EN: fmt.Sprintf("%d direct messages are waiting for a reply", pending),
			ES: fmt.Sprintf("%d mensajes directos esperan respuesta", pending),
		},
	})
	if err != nil {
		return Result{}, err
	}
	seen.Set(key, true, day)
	return Result{Fired: true, Detail: fmt.Sprintf("%d pending", pending)}, nil
}
