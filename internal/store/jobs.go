package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job represents a queued or running background job.
type Job struct {
	ID             string
	Type           string
	Status         string
	ScheduledAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	PayloadJSON    string
	ResultJSON     string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

const jobColumns = `id, type, status, scheduled_at, started_at, finished_at,
	payload_json, result_json, lease_owner, lease_expires_at`

// EnqueueUnique enqueues a job unless one with the same type and
// scheduled_at exists. created reports whether a row was inserted.
func (q queries) EnqueueUnique(ctx context.Context, jobType string, scheduledAt time.Time, payload any) (string, bool, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}
	scheduledAtStr := formatTime(scheduledAt)

	var existingID string
	err = q.q.QueryRowContext(ctx,
		"SELECT id FROM jobs WHERE type = ? AND scheduled_at = ?",
		jobType, scheduledAtStr,
	).Scan(&existingID)
	if err == nil {
		return existingID, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("check existing job: %w", err)
	}

	jobID := uuid.NewString()
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, scheduled_at, payload_json)
		VALUES (?, ?, 'queued', ?, ?)
	`, jobID, jobType, scheduledAtStr, string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	return jobID, true, nil
}

// ClaimNext atomically claims the oldest queued job that is due, or
// returns nil when none is.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	var jobID string
	err := s.Update(ctx, func(tx *Tx) error {
		err := tx.q.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE status = 'queued' AND scheduled_at <= ?
			ORDER BY scheduled_at ASC
			LIMIT 1
		`, formatTime(now)).Scan(&jobID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find next job: %w", err)
		}

		_, err = tx.q.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'running', started_at = ?, lease_owner = ?, lease_expires_at = ?
			WHERE id = ?
		`, formatTime(now), leaseOwner, formatTime(now.Add(leaseFor)), jobID)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, nil
	}
	return s.GetJob(ctx, jobID)
}

// GetJob retrieves a job by ID.
func (q queries) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Succeed marks a job as succeeded.
func (q queries) Succeed(ctx context.Context, jobID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return q.finishJob(ctx, jobID, "succeeded", string(resultJSON))
}

// Fail marks a job as failed.
func (q queries) Fail(ctx context.Context, jobID string, jobErr error) error {
	resultJSON, _ := json.Marshal(map[string]string{"error": jobErr.Error()})
	return q.finishJob(ctx, jobID, "failed", string(resultJSON))
}

func (q queries) finishJob(ctx context.Context, jobID, status, resultJSON string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, result_json = ? WHERE id = ?
	`, status, formatTime(time.Now()), resultJSON, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (q queries) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs ORDER BY scheduled_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var scheduledAt, startedAt, finishedAt, leaseExpiresAt sql.NullString
	var payloadJSON, resultJSON, leaseOwner sql.NullString
	err := row.Scan(&job.ID, &job.Type, &job.Status, &scheduledAt, &startedAt, &finishedAt,
		&payloadJSON, &resultJSON, &leaseOwner, &leaseExpiresAt)
	if err != nil {
		return nil, err
	}
	job.ScheduledAt = parseTime(scheduledAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.FinishedAt = parseTimePtr(finishedAt)
	job.LeaseExpiresAt = parseTimePtr(leaseExpiresAt)
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.LeaseOwner = leaseOwner.String
	return &job, nil
}

// GetKV retrieves a value from the key-value table, or "" if unset.
func (q queries) GetKV(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := q.q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value.String, nil
}

// SetKV sets a value in the key-value table.
func (q queries) SetKV(ctx context.Context, key, value string) error {
	_, err := q.q.ExecContext(ctx, "INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
