package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/transport"
)

// dispatch hands one job to a worker. ref identifies the coordinator's job and is
// never dereferenced by the worker; job is the worker's private copy.
type dispatch struct {
	ref *model.EmailJob
	job model.EmailJob
}

// outcome is a worker's report of one transport call.
type outcome struct {
	ref      *model.EmailJob
	err      error
	finished time.Time
	duration time.Duration
}

// Worker performs transport calls for the coordinator. It never changes job state.
type Worker struct {
	ID        int
	Transport transport.Transport
	Timeout   time.Duration
	Logger    zerolog.Logger

	// Metrics, when set, counts calls abandoned at the timeout (transport.abandoned).
	Metrics *metrics.Collector
}

// NewWorker builds a worker bound to one transport.
func NewWorker(id int, t transport.Transport, timeout time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		ID:        id,
		Transport: t,
		Timeout:   timeout,
		Logger:    logger.With().Int("worker", id).Logger(),
	}
}

// Start processes jobs until the channel is closed. Calls run on a context
// detached from ctx's cancellation so in-flight sends finish or time out on
// their own when the run is interrupted.
func (w *Worker) Start(ctx context.Context, jobs <-chan dispatch, results chan<- outcome) {
	base := context.WithoutCancel(ctx)
	for d := range jobs {
		start := time.Now()
		err := w.send(base, d.job)
		finished := time.Now()

		w.Logger.Debug().
			Str("job_id", d.job.ID).
			Int("attempt", d.job.Attempts).
			Dur("duration", finished.Sub(start)).
			Err(err).
			Msg("transport call finished")

		results <- outcome{ref: d.ref, err: err, finished: finished, duration: finished.Sub(start)}
	}
}

// send bounds one transport call by the job timeout even if the transport
// ignores its context. A call that ignores it is abandoned, and its goroutine
// lives until the transport returns.
func (w *Worker) send(base context.Context, job model.EmailJob) error {
	ctx, cancel := context.WithTimeout(base, w.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Transport.Send(ctx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if w.Metrics != nil {
			w.Metrics.Increment("transport.abandoned", map[string]string{"sender": job.Sender.Address})
		}
		w.Logger.Warn().Str("job_id", job.ID).Dur("timeout", w.Timeout).Msg("transport call abandoned at timeout")
		return appErrors.Transient(fmt.Errorf("send job %s: timed out after %s: %w", job.ID, w.Timeout, ctx.Err()))
	}
}
