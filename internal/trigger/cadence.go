package trigger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// TargetLoader supplies the targets of a scheduled campaign.
type TargetLoader interface {
	LoadTargets(ctx context.Context) ([]model.TargetEntity, error)
}

// CampaignRunner is the orchestrator as seen by the cadence trigger.
type CampaignRunner interface {
	Run(ctx context.Context, targets []model.TargetEntity, identities []model.SenderIdentity, cfg model.CampaignConfig) (*model.CampaignStats, error)
}

// CadenceRun starts the outreach campaign during its configured hour on its
// configured weekdays. Progress is always saved, so a second invocation in the
// same window resumes the first instead of sending again.
type CadenceRun struct {
	Weekdays   []time.Weekday
	Hour       int
	Location   *time.Location
	Targets    TargetLoader
	Identities []model.SenderIdentity
	Config     model.CampaignConfig
	Runner     CampaignRunner
	Logger     zerolog.Logger
}

func (c *CadenceRun) Name() string { return "cadence-run" }

// Due reports whether now falls inside the cadence window.
func (c *CadenceRun) Due(now time.Time) bool {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return slices.Contains(c.Weekdays, local.Weekday()) && local.Hour() == c.Hour
}

// windowKey names the cadence window containing now. Invocations inside one
// window resume each other; the next window starts a new campaign.
func (c *CadenceRun) windowKey(now time.Time) string {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	key := "cadence-" + now.In(loc).Format("2006-01-02")
	if c.Config.RunKey != "" {
		key = c.Config.RunKey + "/" + key
	}
	return key
}

func (c *CadenceRun) Run(ctx context.Context, now time.Time) (Result, error) {
	if !c.Due(now) {
		return Result{}, nil
	}

	targets, err := c.Targets.LoadTargets(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load targets: %w", err)
	}

	cfg := c.Config
	cfg.SaveProgress = true
	cfg.RunKey = c.windowKey(now)

	c.Logger.Info().Int("targets", len(targets)).Str("weekday", now.Weekday().String()).Msg("cadence window open, running campaign")
	stats, err := c.Runner.Run(ctx, targets, c.Identities, cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Fired:  true,
		Detail: fmt.Sprintf("campaign %s: sent %d, failed %d, pending %d", stats.CampaignID, stats.Sent, stats.Failed, stats.Pending),
	}, nil
}
