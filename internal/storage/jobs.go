package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultMaxAttempts = 3

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

// stamp formats t the way every jobs timestamp column is stored.
func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *Store) execOne(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnqueueJob inserts a job. A job enqueued with Status JobRunning is owned by
// the caller, which attempts it inline and then completes or fails it.
func (s *Store) EnqueueJob(job Job) error {
	switch job.Status {
	case "":
		job.Status = JobPending
	case JobPending, JobRunning:
	default:
		return fmt.Errorf("enqueueing job %s: invalid status %q", job.ID, job.Status)
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}

	_, err := s.db.Exec(`INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, job.Status, job.MaxAttempts, stamp(job.RunAfter), stamp(now), stamp(now))
	return err
}

// ClaimNextJob marks the oldest due pending job of one of types as running
// and returns it, or nil when there is none. Selection and update happen in
// one statement, so two workers never claim the same job.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := stamp(time.Now())

	args := []any{now, now}
	for _, t := range types {
		args = append(args, t)
	}
	query := `UPDATE jobs SET status = 'running', updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= ? AND type IN (?` + strings.Repeat(", ?", len(types)-1) + `)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRow(query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	return s.execOne(`UPDATE jobs SET status = 'completed', last_error = NULL, updated_at = ? WHERE id = ?`,
		stamp(time.Now()), id)
}

// retryDelay is the wait before attempt n+1 after n failed attempts.
func retryDelay(n int) time.Duration {
	return time.Duration(1<<min(n, 20)) * time.Second
}

// FailJob records a failed attempt. The job goes back to pending with an
// exponential backoff of 2^attempts seconds, or to failed once it has used
// all of its attempts.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	switch err := tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts); {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	}
	attempts++

	now := time.Now()
	status, runAfter := JobPending, now.Add(retryDelay(attempts))
	if attempts >= maxAttempts {
		status, runAfter = JobFailed, now
	}
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, stamp(runAfter), stamp(now), id); err != nil {
		return err
	}
	return tx.Commit()
}

// RetryJob puts a failed job back in the queue with a fresh attempt budget.
func (s *Store) RetryJob(id string) error {
	now := stamp(time.Now())
	return s.execOne(`UPDATE jobs SET status = 'pending', attempts = 0, run_after = ?, updated_at = ? WHERE id = ? AND status = 'failed'`,
		now, now, id)
}

// RequeueStale returns running jobs untouched for longer than olderThan to
// pending. A process that died mid-attempt leaves such jobs behind.
func (s *Store) RequeueStale(olderThan time.Duration) (int, error) {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', run_after = ?, updated_at = ? WHERE status = 'running' AND updated_at <= ?`,
		stamp(now), stamp(now), stamp(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ExpediteJobs clears the backoff of every pending job so the next claim
// picks them up immediately.
func (s *Store) ExpediteJobs() (int, error) {
	now := stamp(time.Now())
	res, err := s.db.Exec(`UPDATE jobs SET run_after = ? WHERE status = 'pending' AND run_after > ?`, now, now)
	if err != nil {
		return 0, fmt.Errorf("expediting jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// ListJobs returns jobs with status, newest first. An empty status lists
// every job.
func (s *Store) ListJobs(status string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobs returns the number of jobs per status.
func (s *Store) CountJobs() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{JobPending: 0, JobRunning: 0, JobCompleted: 0, JobFailed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := row.Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// parseTime accepts the RFC 3339 strings written by this package and the
// "YYYY-MM-DD HH:MM:SS" form produced by SQLite's CURRENT_TIMESTAMP.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateTime, s)
}
