// internal/model/campaign.go
package model

import "time"

// PriorityOrder is the dispatch ordering policy of a campaign run.
type PriorityOrder string

const (
	PriorityHighToLow PriorityOrder = "high-to-low"
	PriorityLowToHigh PriorityOrder = "low-to-high"
	PriorityNone      PriorityOrder = "none"
)

// Valid reports whether the policy is one of the known values.
func (p PriorityOrder) Valid() bool {
	switch p {
	case PriorityHighToLow, PriorityLowToHigh, PriorityNone:
		return true
	}
	return false
}

// Default run parameters.
const (
	DefaultRetryCeiling       = 3
	DefaultCheckpointEvery    = 100
	DefaultCheckpointInterval = 30 * time.Second
	DefaultJobTimeout         = 30 * time.Second
)

// CampaignConfig holds the parameters of one run. It is not mutated while the run is active.
type CampaignConfig struct {
	TargetCount         int           `json:"target_count"`
	MaxConcurrentAgents int           `json:"max_concurrent_agents"`
	DelayBetweenEmails  time.Duration `json:"delay_between_emails"`
	PriorityOrder       PriorityOrder `json:"priority_order"`
	SaveProgress        bool          `json:"save_progress"`
	ProgressFile        string        `json:"progress_file"`

	RetryCeiling       int           `json:"retry_ceiling"`
	CheckpointEvery    int           `json:"checkpoint_every"`
	CheckpointInterval time.Duration `json:"checkpoint_interval"`
	JobTimeout         time.Duration `json:"job_timeout"`

	// NoRetry fails a job on its first transient error. A zero RetryCeiling on
	// its own means the default ceiling.
	NoRetry bool `json:"no_retry,omitempty"`

	// RunKey separates runs over the same targets and identities, e.g. one per
	// scheduled window. Runs with different keys never resume each other.
	RunKey string `json:"run_key,omitempty"`

	// Template is the upstream-rendered message; the orchestrator only fills target placeholders when a renderer is set.
	Template string `json:"template,omitempty"`
}

// WithDefaults fills zero-valued tuning fields. RetryCeiling stays 0 under
// NoRetry and is left alone when explicitly negative so validation can reject it.
func (c CampaignConfig) WithDefaults() CampaignConfig {
	if c.NoRetry {
		c.RetryCeiling = 0
	} else if c.RetryCeiling == 0 {
		c.RetryCeiling = DefaultRetryCeiling
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = DefaultCheckpointEvery
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.PriorityOrder == "" {
		c.PriorityOrder = PriorityHighToLow
	}
	return c
}

// Breakdown counts jobs in one reporting bucket.
type Breakdown struct {
	Total   int `json:"total" validate:"gte=0"`
	Sent    int `json:"sent" validate:"gte=0"`
	Failed  int `json:"failed" validate:"gte=0"`
	Pending int `json:"pending" validate:"gte=0"`
}

// CampaignStats is the aggregate report of a run. Only the orchestrator's
// coordinator mutates it.
type CampaignStats struct {
	CampaignID      string     `json:"campaign_id" validate:"required"`
	TotalBusinesses int        `json:"total_businesses" validate:"gte=0"`
	Sent            int        `json:"sent" validate:"gte=0"`
	Failed          int        `json:"failed" validate:"gte=0"`
	Pending         int        `json:"pending" validate:"gte=0"`
	StartedAt       time.Time  `json:"started_at" validate:"required"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	ByIndustry map[string]*Breakdown `json:"by_industry" validate:"dive"`
	ByPriority map[string]*Breakdown `json:"by_priority" validate:"dive"`

	CheckpointWarning  bool `json:"checkpoint_warning"`
	CheckpointFailures int  `json:"checkpoint_failures"`
	Resumed            bool `json:"resumed"`
	Cancelled          bool `json:"cancelled"`
}

// NewCampaignStats tallies jobs as they currently stand. Non-terminal jobs count as pending.
func NewCampaignStats(campaignID string, jobs []*EmailJob, startedAt time.Time) *CampaignStats {
	s := &CampaignStats{
		CampaignID: campaignID,
		StartedAt:  startedAt,
		ByIndustry: make(map[string]*Breakdown),
		ByPriority: make(map[string]*Breakdown),
	}
	for _, job := range jobs {
		s.TotalBusinesses++
		ind := s.bucket(s.ByIndustry, industryKey(job.Target))
		pri := s.bucket(s.ByPriority, string(job.Target.Tier()))
		ind.Total++
		pri.Total++
		switch job.Status {
		case JobSent:
			s.Sent++
			ind.Sent++
			pri.Sent++
		case JobFailed:
			s.Failed++
			ind.Failed++
			pri.Failed++
		default:
			s.Pending++
			ind.Pending++
			pri.Pending++
		}
	}
	return s
}

// MarkSent moves one pending job to sent.
func (s *CampaignStats) MarkSent(job *EmailJob) {
	s.Pending--
	s.Sent++
	for _, b := range s.buckets(job) {
		b.Pending--
		b.Sent++
	}
}

// MarkFailed moves one pending job to failed.
func (s *CampaignStats) MarkFailed(job *EmailJob) {
	s.Pending--
	s.Failed++
	for _, b := range s.buckets(job) {
		b.Pending--
		b.Failed++
	}
}

// Reconciles reports whether no job has been double-counted or lost.
func (s *CampaignStats) Reconciles() bool {
	return s.Sent+s.Failed+s.Pending == s.TotalBusinesses
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *CampaignStats) Clone() *CampaignStats {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	c.ByIndustry = cloneBreakdowns(s.ByIndustry)
	c.ByPriority = cloneBreakdowns(s.ByPriority)
	return &c
}

func (s *CampaignStats) buckets(job *EmailJob) []*Breakdown {
	return []*Breakdown{
		s.bucket(s.ByIndustry, industryKey(job.Target)),
		s.bucket(s.ByPriority, string(job.Target.Tier())),
	}
}

func (s *CampaignStats) bucket(m map[string]*Breakdown, key string) *Breakdown {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{}
		m[key] = b
	}
	return b
}

func industryKey(t TargetEntity) string {
	if t.Industry == "" {
		return "unknown"
	}
	return t.Industry
}

func cloneBreakdowns(in map[string]*Breakdown) map[string]*Breakdown {
	out := make(map[string]*Breakdown, len(in))
	for k, v := range in {
		b := *v
		out[k] = &b
	}
	return out
}
