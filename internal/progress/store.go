// Package progress persists campaign checkpoints so an interrupted run can resume
// without repeating sent work.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// Store saves and loads the checkpoint of one campaign.
// Load returns nil, nil when nothing has been saved yet.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// Snapshot is the persisted state of a run: every job with its status plus the stats.
type Snapshot struct {
	CampaignID string               `json:"campaign_id" validate:"required"`
	SavedAt    time.Time            `json:"saved_at"`
	Jobs       []*model.EmailJob    `json:"jobs" validate:"dive,required"`
	Stats      *model.CampaignStats `json:"stats" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the snapshot is internally consistent: well-formed jobs,
// unique job ids and stats that agree with the job statuses.
func (s *Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if s.Stats.CampaignID != s.CampaignID {
		return fmt.Errorf("stats belong to campaign %s, snapshot to %s", s.Stats.CampaignID, s.CampaignID)
	}
	if s.Stats.TotalBusinesses != len(s.Jobs) {
		return fmt.Errorf("stats count %d businesses, snapshot holds %d jobs", s.Stats.TotalBusinesses, len(s.Jobs))
	}
	if !s.Stats.Reconciles() {
		return fmt.Errorf("stats do not reconcile: sent %d + failed %d + pending %d != %d",
			s.Stats.Sent, s.Stats.Failed, s.Stats.Pending, s.Stats.TotalBusinesses)
	}

	seen := make(map[string]struct{}, len(s.Jobs))
	sent, failed := 0, 0
	for _, job := range s.Jobs {
		if _, dup := seen[job.ID]; dup {
			return fmt.Errorf("duplicate job %s", job.ID)
		}
		seen[job.ID] = struct{}{}
		switch job.Status {
		case model.JobSent:
			sent++
		case model.JobFailed:
			failed++
		}
	}
	if sent != s.Stats.Sent || failed != s.Stats.Failed {
		return fmt.Errorf("stats report %d sent / %d failed, jobs show %d / %d", s.Stats.Sent, s.Stats.Failed, sent, failed)
	}
	return nil
}

func encode(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, appErrors.NewPersistenceError("save", fmt.Errorf("encode snapshot: %w", err))
	}
	return data, nil
}

// decode parses and validates a stored snapshot. Anything unusable is a PersistenceError.
func decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, appErrors.NewPersistenceError("load", fmt.Errorf("decode snapshot: %w", err))
	}
	if err := snap.Validate(); err != nil {
		return nil, appErrors.NewPersistenceError("load", fmt.Errorf("invalid snapshot: %w", err))
	}
	return &snap, nil
}
