package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/progress"
	"github.com/unclebandit/outreach-orchestrator/internal/queue"
	"github.com/unclebandit/outreach-orchestrator/internal/transport"
)

// checkpointTimeout bounds one save. Saves are not cut short by run cancellation
// so the final checkpoint of an interrupted run still lands.
const checkpointTimeout = 10 * time.Second

// Renderer produces the message for one target from the campaign template.
type Renderer func(template string, target model.TargetEntity) string

// Orchestrator runs outreach campaigns: it orders targets, assigns sender
// identities, dispatches jobs to a bounded set of workers under global pacing,
// applies retry policy and checkpoints progress so an interrupted run resumes.
type Orchestrator struct {
	transport transport.Transport
	store     progress.Store
	metrics   *metrics.Collector
	logger    zerolog.Logger
	render    Renderer

	current atomic.Pointer[model.CampaignStats]
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRenderer sets how the campaign template becomes a job's message.
// By default the template is copied verbatim.
func WithRenderer(r Renderer) Option {
	return func(o *Orchestrator) { o.render = r }
}

// NewOrchestrator wires an orchestrator. store may be nil, in which case runs
// checkpoint to a FileStore at the configured progress file. A nil collector
// gets a private one.
func NewOrchestrator(t transport.Transport, store progress.Store, collector *metrics.Collector, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if collector == nil {
		collector = metrics.NewCollector(0)
	}
	o := &Orchestrator{
		transport: t,
		store:     store,
		metrics:   collector,
		logger:    logger.With().Str("component", "campaign-orchestrator").Logger(),
		render:    func(template string, _ model.TargetEntity) string { return template },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Progress returns a copy of the stats of the current or most recent run, or nil.
func (o *Orchestrator) Progress() *model.CampaignStats {
	s := o.current.Load()
	if s == nil {
		return nil
	}
	return s.Clone()
}

// Run executes one campaign and returns its final stats. A ConfigurationError is
// returned before anything is dispatched. Cancelling ctx stops new dispatches,
// lets in-flight sends finish, writes a final checkpoint and returns the partial
// stats with Cancelled set; it is not an error.
func (o *Orchestrator) Run(ctx context.Context, targets []model.TargetEntity, identities []model.SenderIdentity, cfg model.CampaignConfig) (*model.CampaignStats, error) {
	cfg = cfg.WithDefaults()
	if err := validateRun(targets, identities, cfg); err != nil {
		var ce *appErrors.ConfigurationError
		if errors.As(err, &ce) {
			o.metrics.Increment("campaign.config_error", map[string]string{"field": ce.Field})
		}
		o.logger.Error().Err(err).Msg("campaign rejected")
		return nil, err
	}

	ordered := OrderTargets(targets, cfg.PriorityOrder)
	if cfg.TargetCount > 0 && len(ordered) > cfg.TargetCount {
		ordered = ordered[:cfg.TargetCount]
	}

	campaignID := CampaignID(cfg.PriorityOrder, cfg.RunKey, ordered, identities)
	jobs := o.buildJobs(campaignID, ordered, identities, cfg.Template)
	log := o.logger.With().Str("campaign_id", campaignID).Logger()

	// the final checkpoint is always written; SaveProgress only adds the
	// mid-run checkpoints and the resume
	store := o.store
	if store == nil {
		store = progress.NewFileStore(cfg.ProgressFile)
	}

	startedAt := time.Now()
	resumed := false
	if cfg.SaveProgress {
		if snap := o.loadCheckpoint(ctx, store, campaignID, jobs, log); snap != nil {
			restore(jobs, snap.Jobs)
			startedAt = snap.Stats.StartedAt
			resumed = true
		}
	}

	stats := model.NewCampaignStats(campaignID, jobs, startedAt)
	stats.Resumed = resumed

	log.Info().
		Int("targets", len(jobs)).
		Int("pending", stats.Pending).
		Int("identities", len(identities)).
		Int("max_concurrent", cfg.MaxConcurrentAgents).
		Dur("delay", cfg.DelayBetweenEmails).
		Str("priority_order", string(cfg.PriorityOrder)).
		Bool("resumed", resumed).
		Msg("campaign started")

	r := &run{
		o:      o,
		cfg:    cfg,
		jobs:   jobs,
		queue:  queue.New(jobs),
		stats:  stats,
		store:  store,
		pacer:  NewPacer(cfg.DelayBetweenEmails),
		logger: log,
	}
	r.publish()
	r.execute(ctx)

	log.Info().
		Int("sent", stats.Sent).
		Int("failed", stats.Failed).
		Int("pending", stats.Pending).
		Bool("cancelled", stats.Cancelled).
		Bool("checkpoint_warning", stats.CheckpointWarning).
		Msg("campaign finished")

	return stats, nil
}

func validateRun(targets []model.TargetEntity, identities []model.SenderIdentity, cfg model.CampaignConfig) error {
	if len(identities) == 0 {
		return appErrors.NewConfigurationError("identities", "sender identity pool is empty")
	}
	for i, id := range identities {
		if strings.TrimSpace(id.Address) == "" {
			return appErrors.NewConfigurationError("identities", fmt.Sprintf("identity %d has no address", i))
		}
	}
	if len(targets) == 0 {
		return appErrors.NewConfigurationError("targets", "no targets supplied")
	}
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if t.ID == "" {
			return appErrors.NewConfigurationError("targets", fmt.Sprintf("target %d has no id", i))
		}
		if _, dup := seen[t.ID]; dup {
			return appErrors.NewConfigurationError("targets", fmt.Sprintf("duplicate target id %s", t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	if cfg.MaxConcurrentAgents <= 0 {
		return appErrors.NewConfigurationError("max_concurrent_agents", "must be positive")
	}
	if cfg.DelayBetweenEmails < 0 {
		return appErrors.NewConfigurationError("delay_between_emails", "must not be negative")
	}
	if cfg.TargetCount < 0 {
		return appErrors.NewConfigurationError("target_count", "must not be negative")
	}
	if cfg.RetryCeiling < 0 {
		return appErrors.NewConfigurationError("retry_ceiling", "must not be negative")
	}
	if !cfg.PriorityOrder.Valid() {
		return appErrors.NewConfigurationError("priority_order", fmt.Sprintf("unknown policy %q", cfg.PriorityOrder))
	}
	return nil
}

// OrderTargets returns targets sorted by policy. The sort is stable so equal
// tiers keep their input order.
func OrderTargets(targets []model.TargetEntity, order model.PriorityOrder) []model.TargetEntity {
	out := make([]model.TargetEntity, len(targets))
	copy(out, targets)
	switch order {
	case model.PriorityHighToLow:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Tier().Rank() < out[j].Tier().Rank() })
	case model.PriorityLowToHigh:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Tier().Rank() > out[j].Tier().Rank() })
	}
	return out
}

// CampaignID fingerprints a run: the same run key, ordered targets, identities
// and policy always produce the same id, which is how a checkpoint is matched on
// resume. An empty run key leaves the id of keyless runs unchanged.
func CampaignID(order model.PriorityOrder, runKey string, targets []model.TargetEntity, identities []model.SenderIdentity) string {
	var b strings.Builder
	b.WriteString(string(order))
	if runKey != "" {
		b.WriteString("\x00k:")
		b.WriteString(runKey)
	}
	for _, t := range targets {
		b.WriteString("\x00t:")
		b.WriteString(t.ID)
	}
	for _, id := range identities {
		b.WriteString("\x00s:")
		b.WriteString(id.Address)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.String())).String()
}

func (o *Orchestrator) buildJobs(campaignID string, targets []model.TargetEntity, identities []model.SenderIdentity, template string) []*model.EmailJob {
	ns := uuid.MustParse(campaignID)
	jobs := make([]*model.EmailJob, len(targets))
	for i, t := range targets {
		jobs[i] = &model.EmailJob{
			ID:       uuid.NewSHA1(ns, []byte(t.ID)).String(),
			Target:   t,
			Sender:   identities[i%len(identities)],
			Template: o.render(template, t),
			Status:   model.JobPending,
		}
	}
	return jobs
}

// loadCheckpoint returns the stored snapshot when it belongs to this campaign.
// Unreadable or foreign checkpoints are logged and ignored.
func (o *Orchestrator) loadCheckpoint(ctx context.Context, store progress.Store, campaignID string, jobs []*model.EmailJob, log zerolog.Logger) *progress.Snapshot {
	snap, err := store.Load(ctx)
	if err != nil {
		o.metrics.Increment("checkpoint.error", map[string]string{"op": "load"})
		log.Warn().Err(err).Msg("ignoring unreadable checkpoint, starting fresh")
		return nil
	}
	if snap == nil {
		return nil
	}
	if snap.CampaignID != campaignID || len(snap.Jobs) != len(jobs) {
		log.Warn().Str("checkpoint_campaign_id", snap.CampaignID).Msg("checkpoint belongs to a different campaign, starting fresh")
		return nil
	}
	for i, job := range snap.Jobs {
		if job.ID != jobs[i].ID {
			log.Warn().Str("job_id", job.ID).Msg("checkpoint job order differs, starting fresh")
			return nil
		}
	}
	log.Info().Time("saved_at", snap.SavedAt).Int("sent", snap.Stats.Sent).Int("failed", snap.Stats.Failed).Msg("resuming from checkpoint")
	return snap
}

// restore copies the lifecycle state of stored jobs onto freshly built ones.
func restore(jobs, stored []*model.EmailJob) {
	for i, s := range stored {
		j := jobs[i]
		j.Status = s.Status
		j.Attempts = s.Attempts
		j.RetryCount = s.RetryCount
		j.SentAt = s.SentAt
		j.DispatchedAt = s.DispatchedAt
		j.LastError = s.LastError
	}
}

// run is the state of one Run call. Only the coordinator goroutine (execute)
// touches jobs, queue and stats.
type run struct {
	o      *Orchestrator
	cfg    model.CampaignConfig
	jobs   []*model.EmailJob
	queue  *queue.JobQueue
	stats  *model.CampaignStats
	store  progress.Store
	pacer  *Pacer
	logger zerolog.Logger

	inFlight          int
	sinceCheckpoint   int
	dispatchCancelled bool
}

func (r *run) execute(ctx context.Context) {
	workers := r.cfg.MaxConcurrentAgents
	work := make(chan dispatch)
	results := make(chan outcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := NewWorker(i, r.o.transport, r.cfg.JobTimeout, r.logger)
		w.Metrics = r.o.metrics
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx, work, results)
		}()
	}

	var tick <-chan time.Time
	if r.cfg.SaveProgress {
		ticker := time.NewTicker(r.cfg.CheckpointInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.dispatchLoop(ctx, work, results, tick)

	// drain in-flight calls; they run on a detached context and time out on their own
	for r.inFlight > 0 {
		r.apply(ctx, <-results)
	}
	close(work)
	wg.Wait()

	if r.dispatchCancelled && r.stats.Pending > 0 {
		r.stats.Cancelled = true
		r.logger.Warn().Int("pending", r.stats.Pending).Msg("campaign interrupted, pending jobs left for resume")
	}
	if r.stats.Pending == 0 {
		now := time.Now()
		r.stats.CompletedAt = &now
	}

	r.checkpoint(ctx)
	r.publish()
}

func (r *run) dispatchLoop(ctx context.Context, work chan<- dispatch, results <-chan outcome, tick <-chan time.Time) {
	for {
		// apply whatever finished while we were pacing
		for drained := false; !drained; {
			select {
			case out := <-results:
				r.apply(ctx, out)
			case <-tick:
				r.checkpoint(ctx)
			default:
				drained = true
			}
		}

		if ctx.Err() != nil {
			r.dispatchCancelled = true
			return
		}

		if r.inFlight >= r.cfg.MaxConcurrentAgents || r.queue.Len() == 0 {
			if r.inFlight == 0 {
				return
			}
			select {
			case out := <-results:
				r.apply(ctx, out)
			case <-tick:
				r.checkpoint(ctx)
			case <-ctx.Done():
			}
			continue
		}

		job, ok := r.queue.Pop()
		if !ok {
			continue
		}

		stamp, err := r.pacer.Wait(ctx)
		if err != nil {
			// the job keeps its status and is picked up again on resume
			r.dispatchCancelled = true
			return
		}

		job.Attempts++
		job.DispatchedAt = &stamp
		r.inFlight++
		work <- dispatch{ref: job, job: *job}
	}
}

// apply performs the status transition for one finished call.
func (r *run) apply(ctx context.Context, out outcome) {
	r.inFlight--
	job := out.ref
	tags := map[string]string{
		"industry": job.Target.Industry,
		"priority": string(job.Target.Tier()),
		"sender":   job.Sender.Address,
	}
	r.o.metrics.Record("email.duration_ms", float64(out.duration.Milliseconds()), tags)

	log := r.logger.With().Str("job_id", job.ID).Str("target_id", job.Target.ID).Int("attempt", job.Attempts).Logger()

	if out.err == nil {
		sentAt := out.finished
		job.Status = model.JobSent
		job.SentAt = &sentAt
		job.LastError = ""
		r.stats.MarkSent(job)
		r.o.metrics.Increment("email.sent", tags)
		log.Debug().Str("status", string(job.Status)).Msg("email sent")
		r.completed(ctx)
		return
	}

	kind := appErrors.KindOf(out.err)
	job.LastError = out.err.Error()
	tags["kind"] = string(kind)
	r.o.metrics.Increment("transport.error", map[string]string{"kind": string(kind)})

	if kind.Retryable() {
		job.RetryCount++
		if job.RetryCount <= r.cfg.RetryCeiling {
			job.Status = model.JobRetry
			if err := r.queue.Requeue(job); err != nil {
				log.Error().Err(err).Msg("requeue rejected")
			}
			r.o.metrics.Increment("email.retry", tags)
			log.Debug().Err(out.err).Str("status", string(job.Status)).Int("retry_count", job.RetryCount).Msg("send failed, will retry")
			r.publish()
			return
		}
	}

	job.Status = model.JobFailed
	r.stats.MarkFailed(job)
	r.o.metrics.Increment("email.failed", tags)
	log.Warn().Err(out.err).Str("status", string(job.Status)).Str("kind", string(kind)).Int("retry_count", job.RetryCount).Msg("email failed")
	r.completed(ctx)
}

func (r *run) completed(ctx context.Context) {
	r.sinceCheckpoint++
	if r.cfg.SaveProgress && r.sinceCheckpoint >= r.cfg.CheckpointEvery {
		r.checkpoint(ctx)
	}
	r.publish()
}

// checkpoint persists the current jobs and stats. Failures only raise the warning flag.
func (r *run) checkpoint(ctx context.Context) {
	r.sinceCheckpoint = 0

	if !r.stats.Reconciles() {
		r.logger.Error().
			Int("sent", r.stats.Sent).Int("failed", r.stats.Failed).Int("pending", r.stats.Pending).
			Int("total", r.stats.TotalBusinesses).
			Msg("stats do not reconcile")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()

	snap := &progress.Snapshot{
		CampaignID: r.stats.CampaignID,
		SavedAt:    time.Now().UTC(),
		Jobs:       make([]*model.EmailJob, len(r.jobs)),
		Stats:      r.stats.Clone(),
	}
	for i, job := range r.jobs {
		j := *job
		snap.Jobs[i] = &j
	}

	if err := r.store.Save(ctx, snap); err != nil {
		r.stats.CheckpointWarning = true
		r.stats.CheckpointFailures++
		r.o.metrics.Increment("checkpoint.error", map[string]string{"op": "save"})
		r.logger.Warn().Err(err).Int("failures", r.stats.CheckpointFailures).Msg("checkpoint failed")
		return
	}
	r.o.metrics.Increment("checkpoint.saved", nil)
	r.logger.Debug().Int("sent", r.stats.Sent).Int("failed", r.stats.Failed).Msg("checkpoint saved")
}

func (r *run) publish() {
	r.o.current.Store(r.stats.Clone())
}
