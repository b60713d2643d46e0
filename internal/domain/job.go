package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle of a queued job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is a unit of deferred work delivered at-least-once by the worker.
type Job struct {
	ID        uuid.UUID
	Kind      string
	Payload   []byte
	Status    JobStatus
	Attempts  int
	RunAt     time.Time
	LastError string
	CreatedAt time.Time
}
