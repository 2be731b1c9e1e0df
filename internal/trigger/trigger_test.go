package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-orchestrator/internal/alert"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

type fakeAlerter struct {
	mu   sync.Mutex
	sent []alert.Alert
	err  error
}

func (f *fakeAlerter) Send(ctx context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type deadlineList []Deadline

func (d deadlineList) UpcomingDeadlines(ctx context.Context, now time.Time) ([]Deadline, error) {
	return d, nil
}

// Monday 2026-03-02 09:30 UTC
var monday = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func TestDeadlineCheck(t *testing.T) {
	alerter := &fakeAlerter{}
	check := &DeadlineCheck{
		Source: deadlineList{
			{ID: "q1-vat", Title: "VAT return", TitleES: "Declaración de IVA", Due: monday.Add(12 * time.Hour)},
			{ID: "renewal", Title: "Domain renewal", Due: monday.Add(48 * time.Hour)},
			{ID: "far", Title: "Annual report", Due: monday.Add(30 * day)},
			{ID: "past", Title: "Missed", Due: monday.Add(-time.Hour)},
		},
		Alerter: alerter,
	}

	res, err := check.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	require.Equal(t, 2, alerter.count())
	assert.Equal(t, alert.SeverityHigh, alerter.sent[0].Severity)
	assert.Contains(t, alerter.sent[0].Message.ES, "Declaración de IVA")
	assert.Equal(t, alert.SeverityMedium, alerter.sent[1].Severity)
	assert.Contains(t, alerter.sent[1].Message.ES, "Domain renewal", "falls back to the English title")

	// same day: nothing new
	res, err = check.Run(context.Background(), monday.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Equal(t, 2, alerter.count())

	// next day the reminder repeats
	_, err = check.Run(context.Background(), monday.Add(day-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, alerter.count(), "only the renewal is still ahead")
}

func TestDeadlineCheck_NoDeadlinesIsNoop(t *testing.T) {
	alerter := &fakeAlerter{}
	res, err := (&DeadlineCheck{Source: deadlineList{}, Alerter: alerter}).Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Zero(t, alerter.count())
}

func TestDeadlineCheck_AlertFailureIsRetriedNextTick(t *testing.T) {
	alerter := &fakeAlerter{err: errors.New("relay down")}
	check := &DeadlineCheck{
		Source:  deadlineList{{ID: "vat", Title: "VAT", Due: monday.Add(time.Hour)}},
		Alerter: alerter,
	}

	_, err := check.Run(context.Background(), monday)
	require.Error(t, err)

	alerter.err = nil
	res, err := check.Run(context.Background(), monday.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Fired)
}

type deploySource struct{ d *DeployStatus }

func (s deploySource) LatestDeploy(ctx context.Context) (*DeployStatus, error) { return s.d, nil }

func TestDeployCheck(t *testing.T) {
	alerter := &fakeAlerter{}

	ok := &DeployCheck{Source: deploySource{&DeployStatus{ID: "d1", Service: "web", State: "succeeded"}}, Alerter: alerter}
	res, err := ok.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired)

	none := &DeployCheck{Source: deploySource{}, Alerter: alerter}
	res, err = none.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired)

	failed := &DeployCheck{Source: deploySource{&DeployStatus{ID: "d2", Service: "web", State: DeployFailed, URL: "https://ci.example.com/d2"}}, Alerter: alerter}
	for i := 0; i < 3; i++ {
		_, err = failed.Run(context.Background(), monday.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	require.Equal(t, 1, alerter.count())
	assert.Equal(t, alert.TypeDeploy, alerter.sent[0].Type)
	assert.Equal(t, "https://ci.example.com/d2", alerter.sent[0].ActionURL)
}

func TestBounceRateCheck(t *testing.T) {
	collector := metrics.NewCollector(1000)
	alerter := &fakeAlerter{}
	check := &BounceRateCheck{Metrics: collector, Alerter: alerter, Threshold: 0.1, MinSamples: 10}

	for i := 0; i < 5; i++ {
		collector.Increment("email.failed", nil)
	}
	res, err := check.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired, "below the minimum sample size")

	for i := 0; i < 15; i++ {
		collector.Increment("email.sent", nil)
	}
	res, err = check.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	require.Equal(t, 1, alerter.count())
	assert.Equal(t, alert.SeverityHigh, alerter.sent[0].Severity, "25% is over twice the threshold")

	res, err = check.Run(context.Background(), monday.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Equal(t, 1, alerter.count())
}

func TestBounceRateCheck_HealthyRate(t *testing.T) {
	collector := metrics.NewCollector(1000)
	for i := 0; i < 100; i++ {
		collector.Increment("email.sent", nil)
	}
	collector.Increment("email.failed", nil)

	alerter := &fakeAlerter{}
	res, err := (&BounceRateCheck{Metrics: collector, Alerter: alerter}).Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired)
}

type backlog int

func (b backlog) PendingDMs(ctx context.Context) (int, error) { return int(b), nil }

func TestDMBacklogCheck(t *testing.T) {
	alerter := &fakeAlerter{}

	res, err := (&DMBacklogCheck{Source: backlog(3), Alerter: alerter, Threshold: 10}).Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired)

	check := &DMBacklogCheck{Source: backlog(40), Alerter: alerter, Threshold: 10}
	res, err = check.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	res, err = check.Run(context.Background(), monday.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Equal(t, 1, alerter.count())
	assert.Equal(t, alert.TypeDMBacklog, alerter.sent[0].Type)
}

type staticTargets []model.TargetEntity

func (s staticTargets) LoadTargets(ctx context.Context) ([]model.TargetEntity, error) { return s, nil }

type runnerFunc func(ctx context.Context, targets []model.TargetEntity, identities []model.SenderIdentity, cfg model.CampaignConfig) (*model.CampaignStats, error)

func (f runnerFunc) Run(ctx context.Context, targets []model.TargetEntity, identities []model.SenderIdentity, cfg model.CampaignConfig) (*model.CampaignStats, error) {
	return f(ctx, targets, identities, cfg)
}

func TestCadenceRun(t *testing.T) {
	var runs int
	var gotCfg model.CampaignConfig
	cadence := &CadenceRun{
		Weekdays: []time.Weekday{time.Monday, time.Thursday},
		Hour:     9,
		Targets:  staticTargets{{ID: "a", Email: "a@example.com"}},
		Config:   model.CampaignConfig{MaxConcurrentAgents: 2},
		Runner: runnerFunc(func(ctx context.Context, targets []model.TargetEntity, identities []model.SenderIdentity, cfg model.CampaignConfig) (*model.CampaignStats, error) {
			runs++
			gotCfg = cfg
			return &model.CampaignStats{CampaignID: "c1", TotalBusinesses: len(targets), Sent: len(targets)}, nil
		}),
		Logger: zerolog.Nop(),
	}

	tests := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{"monday in window", monday, true},
		{"monday wrong hour", monday.Add(2 * time.Hour), false},
		{"tuesday", monday.Add(day), false},
		{"thursday in window", monday.Add(3 * day), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := runs
			res, err := cadence.Run(context.Background(), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.due, res.Fired)
			if tt.due {
				assert.Equal(t, before+1, runs)
				assert.Contains(t, res.Detail, "sent 1")
			} else {
				assert.Equal(t, before, runs)
			}
		})
	}
	assert.True(t, gotCfg.SaveProgress, "cadence runs always save progress")
	assert.Equal(t, "cadence-2026-03-05", gotCfg.RunKey)
	assert.Equal(t, 2, gotCfg.MaxConcurrentAgents)
}

func TestCadenceRun_Location(t *testing.T) {
	loc := time.FixedZone("UTC-6", -6*60*60)
	cadence := &CadenceRun{Weekdays: []time.Weekday{time.Monday}, Hour: 3, Location: loc}
	assert.True(t, cadence.Due(monday))
	assert.False(t, cadence.Due(monday.Add(time.Hour)))
}

type memTeasers struct {
	mu   sync.Mutex
	rows map[string]Teaser
}

func (m *memTeasers) TeaserExists(ctx context.Context, slug, locale string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[slug+"/"+locale]
	return ok, nil
}

func (m *memTeasers) InsertTeaser(ctx context.Context, t Teaser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := t.Slug + "/" + t.Locale
	if _, ok := m.rows[key]; ok {
		return errors.New("duplicate key")
	}
	m.rows[key] = t
	return nil
}

func TestTeaserSync_Idempotent(t *testing.T) {
	store := &memTeasers{rows: map[string]Teaser{}}
	job := &TeaserSync{
		Source: StaticTeasers{
			{Slug: "spring-launch", Locale: "en", Title: "Spring launch", PublishOn: monday.Add(7 * day)},
			{Slug: "spring-launch", Locale: "es", Title: "Lanzamiento de primavera", PublishOn: monday.Add(7 * day)},
			{Slug: "old-news", Locale: "en", Title: "Old news", PublishOn: monday.Add(-7 * day)},
		},
		Store: store,
	}

	res, err := job.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Equal(t, "inserted 2, skipped 0", res.Detail)

	res, err = job.Run(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Equal(t, "inserted 0, skipped 2", res.Detail)
	assert.Len(t, store.rows, 2)
}

type countingTrigger struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (c *countingTrigger) Name() string { return c.name }

func (c *countingTrigger) Run(ctx context.Context, now time.Time) (Result, error) {
	c.runs.Add(1)
	if c.block != nil {
		<-c.block
	}
	return Result{Fired: true}, c.err
}

func TestScheduler_RunOnce(t *testing.T) {
	collector := metrics.NewCollector(100)
	s := NewScheduler(collector, zerolog.Nop())
	tr := &countingTrigger{name: "noop"}
	s.Register(tr, 0)

	res, err := s.RunOnce(context.Background(), "noop")
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Equal(t, int32(1), tr.runs.Load())
	assert.Equal(t, 1, collector.Summary()["trigger.fired"].Count)

	_, err = s.RunOnce(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTrigger)
	assert.Equal(t, []string{"noop"}, s.Names())
}

func TestScheduler_RunOnceWhileRunningIsBusy(t *testing.T) {
	s := NewScheduler(nil, zerolog.Nop())
	tr := &countingTrigger{name: "slow", block: make(chan struct{})}
	s.Register(tr, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunOnce(context.Background(), "slow")
	}()
	require.Eventually(t, func() bool { return tr.runs.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.RunOnce(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrBusy)

	close(tr.block)
	<-done
}

func TestScheduler_StartTicksUntilCancelled(t *testing.T) {
	collector := metrics.NewCollector(100000)
	s := NewScheduler(collector, zerolog.Nop())
	ok := &countingTrigger{name: "ok"}
	failing := &countingTrigger{name: "failing", err: errors.New("boom")}
	s.Register(ok, 5*time.Millisecond)
	s.Register(failing, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		return ok.runs.Load() >= 3 && failing.runs.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "errors must not stop the loop")

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, collector.Summary()["trigger.error"].Count, 3)
}
