package queue

import (
	"fmt"
	"sync"

	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// JobQueue is the ordered work queue of a campaign run. Pop hands each job to
// exactly one caller; a job re-enters only through Requeue, at the tail.
type JobQueue struct {
	mu    sync.Mutex
	items []*model.EmailJob
	head  int
}

// New creates a queue holding jobs in the given order. Terminal jobs are skipped.
func New(jobs []*model.EmailJob) *JobQueue {
	q := &JobQueue{items: make([]*model.EmailJob, 0, len(jobs))}
	for _, job := range jobs {
		if job.IsTerminal() {
			continue
		}
		q.items = append(q.items, job)
	}
	return q
}

// Pop claims the job at the front of the queue.
func (q *JobQueue) Pop() (*model.EmailJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return nil, false
	}
	job := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]*model.EmailJob(nil), q.items[q.head:]...)
		q.head = 0
	}
	return job, true
}

// Requeue appends a job in retry status to the tail of the remaining work.
func (q *JobQueue) Requeue(job *model.EmailJob) error {
	if job.Status != model.JobRetry {
		return fmt.Errorf("job %s cannot be requeued in status %s", job.ID, job.Status)
	}
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	return nil
}

// Len returns the number of jobs waiting to be claimed.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
