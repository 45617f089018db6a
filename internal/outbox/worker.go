package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker replays pending outbox jobs from the SQLite job queue.
type Worker struct {
	outbox *Outbox
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker for the handlers registered on o.
// If pollInterval is <= 0, it defaults to 5s.
func NewWorker(o *Outbox, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		outbox: o,
		poll:   pollInterval,
		logger: o.logger,
	}
}

// Run drains due jobs every poll interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	wait := time.NewTimer(0)
	defer wait.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wait.C:
		}
		if n, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("outbox pass failed", "error", err, "processed", n)
		}
		wait.Reset(w.poll)
	}
}

// RunOnce claims and attempts one due job. It reports whether a job was
// claimed, whatever the outcome of the attempt.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.outbox.store.ClaimNextJob(w.outbox.Types())
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	h, ok := w.outbox.handler(job.Type)
	if !ok {
		return true, w.outbox.store.FailJob(job.ID, "no handler for job type "+job.Type)
	}
	if err := w.outbox.attempt(ctx, job, h); err != nil {
		w.logger.Debug("job left for retry", "job_id", job.ID, "error", err)
	}
	return true, nil
}

// Drain processes due jobs until none is left or ctx is done, and returns
// the number of attempts made. Each job is attempted at most once per call
// because a failed job is deferred by its backoff.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		did, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !did {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}
