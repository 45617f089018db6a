// Package outbox runs multi-record side effects through the local job queue
// so that a partially failed write is retried until every sibling exists.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tableturnerr/ttcrm/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// HandlerFunc performs the side effects of one job. It must be idempotent:
// a job is replayed from the start after any failure.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Job outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

// Observer is notified after every attempt.
type Observer func(jobType, outcome string)

// Receipt describes the result of Submit.
type Receipt struct {
	JobID string
	// Pending is true when the inline attempt failed and the job was left
	// for the worker.
	Pending   bool
	LastError error
}

type Outbox struct {
	store       JobStore
	maxAttempts int
	logger      *slog.Logger
	observe     Observer

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

type Option func(*Outbox)

// WithMaxAttempts sets the attempt budget of submitted jobs.
func WithMaxAttempts(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Outbox) { o.logger = l }
}

func WithObserver(fn Observer) Option {
	return func(o *Outbox) { o.observe = fn }
}

func New(store JobStore, opts ...Option) *Outbox {
	o := &Outbox{
		store:       store,
		maxAttempts: 5,
		logger:      slog.Default(),
		handlers:    make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle registers the handler of a job type.
func (o *Outbox) Handle(jobType string, h HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[jobType] = h
}

// Types returns the registered job types.
func (o *Outbox) Types() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	types := make([]string, 0, len(o.handlers))
	for t := range o.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (o *Outbox) handler(jobType string) (HandlerFunc, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.handlers[jobType]
	return h, ok
}

// Submit persists a job and attempts it immediately. An error is returned
// only when the job could not be persisted; a failed attempt is reported in
// the receipt and left to the worker.
func (o *Outbox) Submit(ctx context.Context, jobType string, payload any) (Receipt, error) {
	h, ok := o.handler(jobType)
	if !ok {
		return Receipt{}, fmt.Errorf("no handler for job type %q", jobType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}

	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: string(raw),
		Status:      storage.JobRunning,
		MaxAttempts: o.maxAttempts,
	}
	if err := o.store.EnqueueJob(job); err != nil {
		return Receipt{}, fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}

	rc := Receipt{JobID: job.ID}
	if err := o.attempt(ctx, &job, h); err != nil {
		rc.Pending = true
		rc.LastError = err
	}
	return rc, nil
}

// attempt runs h for job and records the outcome in the store.
func (o *Outbox) attempt(ctx context.Context, job *storage.Job, h HandlerFunc) error {
	err := h(ctx, json.RawMessage(job.PayloadJSON))
	if err == nil {
		if cerr := o.store.CompleteJob(job.ID); cerr != nil {
			return fmt.Errorf("completing job %s: %w", job.ID, cerr)
		}
		o.notify(job.Type, OutcomeCompleted)
		return nil
	}

	outcome := OutcomeRetry
	if job.Attempts+1 >= job.MaxAttempts {
		outcome = OutcomeFailed
	}
	o.logger.Warn("outbox job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
	if failErr := o.store.FailJob(job.ID, err.Error()); failErr != nil {
		o.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
	}
	o.notify(job.Type, outcome)
	return err
}

func (o *Outbox) notify(jobType, outcome string) {
	if o.observe != nil {
		o.observe(jobType, outcome)
	}
}
