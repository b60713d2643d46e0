// Package jobs runs the background worker over the SQLite-backed queue.
// Delivery is at-least-once: a job claimed but not completed before a crash
// stays running until an operator resets it, and handlers must tolerate
// duplicate execution.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/logger"
)

// Store is the queue side the worker drives.
type Store interface {
	ClaimDueJobs(now time.Time, limit int) ([]domain.Job, error)
	MarkJobDone(id uuid.UUID) error
	MarkJobRetry(id uuid.UUID, nextRun time.Time, lastError string) error
	MarkJobDead(id uuid.UUID, lastError string) error
}

// Handler processes one job. Returning an error schedules a retry.
type Handler func(job domain.Job) error

const (
	defaultPollInterval = 15 * time.Second
	defaultMaxAttempts  = 5
	defaultClaimLimit   = 10
	retryBase           = 30 * time.Second
)

// Worker polls the queue and dispatches jobs to registered handlers.
type Worker struct {
	store       Store
	log         *logger.Logger
	handlers    map[string]Handler
	interval    time.Duration
	maxAttempts int

	stop chan struct{}
	done chan struct{}
}

// NewWorker creates a worker polling at the given interval, or the default
// when pollInterval is zero.
func NewWorker(store Store, log *logger.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{
		store:       store,
		log:         log.With("service", "jobs"),
		handlers:    make(map[string]Handler),
		interval:    pollInterval,
		maxAttempts: defaultMaxAttempts,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Register binds a handler to a job kind. It must be called before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start launches the poll loop in the background.
func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				if err := w.RunOnce(time.Now().UTC()); err != nil {
					w.log.Error("job poll failed", "error", err)
				}
			}
		}
	}()
}

// Stop shuts the poll loop down and waits for an in-flight batch to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// RunOnce claims one batch of due jobs and handles them.
func (w *Worker) RunOnce(now time.Time) error {
	claimed, err := w.store.ClaimDueJobs(now, defaultClaimLimit)
	if err != nil {
		return fmt.Errorf("failed to claim jobs: %w", err)
	}
	for _, job := range claimed {
		w.handle(job, now)
	}
	return nil
}

func (w *Worker) handle(job domain.Job, now time.Time) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		w.log.Error("no handler for job kind", "kind", job.Kind, "job_id", job.ID.String())
		if err := w.store.MarkJobDead(job.ID, "no handler registered"); err != nil {
			w.log.Error("failed to park job", "job_id", job.ID.String(), "error", err)
		}
		return
	}

	if err := h(job); err != nil {
		w.log.Warn("job failed", "kind", job.Kind, "job_id", job.ID.String(), "attempt", job.Attempts, "error", err)
		if job.Attempts >= w.maxAttempts {
			if derr := w.store.MarkJobDead(job.ID, err.Error()); derr != nil {
				w.log.Error("failed to park job", "job_id", job.ID.String(), "error", derr)
			}
			return
		}
		if rerr := w.store.MarkJobRetry(job.ID, now.Add(backoff(job.Attempts)), err.Error()); rerr != nil {
			w.log.Error("failed to reschedule job", "job_id", job.ID.String(), "error", rerr)
		}
		return
	}

	if err := w.store.MarkJobDone(job.ID); err != nil {
		w.log.Error("failed to finalize job", "job_id", job.ID.String(), "error", err)
	}
}

// backoff doubles per attempt: 30s, 1m, 2m, 4m, ...
func backoff(attempts int) time.Duration {
	d := retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
