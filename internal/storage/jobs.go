package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
)

// EnqueueJob stores a job for the worker to pick up at runAt.
func (db *DB) EnqueueJob(kind string, payload []byte, runAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.conn.Exec(`
		INSERT INTO jobs (id, kind, payload, status, run_at, created_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
	`, id.String(), kind, string(payload), runAt, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return id, nil
}

// ClaimDueJobs atomically marks up to limit due pending jobs as running and
// returns them. With a single writer connection this is the poll loop's
// claim step.
func (db *DB) ClaimDueJobs(now time.Time, limit int) ([]domain.Job, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin job claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, kind, payload, status, attempts, run_at, last_error, created_at
		FROM jobs
		WHERE status = 'pending' AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	var jobs []domain.Job
	for rows.Next() {
		var (
			j         domain.Job
			id        string
			payload   string
			status    string
			lastError sql.NullString
		)
		if err := rows.Scan(&id, &j.Kind, &payload, &status, &j.Attempts, &j.RunAt, &lastError, &j.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt job id %q: %w", id, err)
		}
		j.ID = parsed
		j.Payload = []byte(payload)
		j.Status = domain.JobStatus(status)
		j.LastError = lastError.String
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading due jobs: %w", err)
	}

	for _, j := range jobs {
		if _, err := tx.Exec(`
			UPDATE jobs SET status = 'running', attempts = attempts + 1 WHERE id = ?
		`, j.ID.String()); err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", j.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job claim: %w", err)
	}
	for i := range jobs {
		jobs[i].Status = domain.JobRunning
		jobs[i].Attempts++
	}
	return jobs, nil
}

// MarkJobDone finalizes a successfully handled job.
func (db *DB) MarkJobDone(id uuid.UUID) error {
	if _, err := db.conn.Exec(`UPDATE jobs SET status = 'done' WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to mark job %s done: %w", id, err)
	}
	return nil
}

// MarkJobRetry schedules a failed job for another attempt.
func (db *DB) MarkJobRetry(id uuid.UUID, nextRun time.Time, lastError string) error {
	_, err := db.conn.Exec(`
		UPDATE jobs SET status = 'pending', run_at = ?, last_error = ? WHERE id = ?
	`, nextRun, lastError, id.String())
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", id, err)
	}
	return nil
}

// MarkJobDead parks a job that exhausted its attempts.
func (db *DB) MarkJobDead(id uuid.UUID, lastError string) error {
	_, err := db.conn.Exec(`
		UPDATE jobs SET status = 'dead', last_error = ? WHERE id = ?
	`, lastError, id.String())
	if err != nil {
		return fmt.Errorf("failed to mark job %s dead: %w", id, err)
	}
	return nil
}
