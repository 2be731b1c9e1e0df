// internal/model/email_job.go
package model

import "time"

// JobStatus is the lifecycle state of an EmailJob.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
	JobRetry   JobStatus = "retry"
)

// IsTerminal reports whether a job in this status is never dispatched again.
func (s JobStatus) IsTerminal() bool {
	return s == JobSent || s == JobFailed
}

// EmailJob is one scheduled attempt to deliver one message to one target
// through one sender identity.
type EmailJob struct {
	ID           string         `json:"id" validate:"required"`
	Target       TargetEntity   `json:"target" validate:"required"`
	Sender       SenderIdentity `json:"sender" validate:"required"`
	Template     string         `json:"template"`
	Status       JobStatus      `json:"status" validate:"oneof=pending sent failed retry"`
	Attempts     int            `json:"attempts" validate:"gte=0"`
	RetryCount   int            `json:"retry_count" validate:"gte=0"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

// IsTerminal reports whether the job reached sent or failed.
func (j *EmailJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}
