package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

const syncJobColumns = `id, source_id, source_name, streams, sync_mode, status,
	created_at, started_at, completed_at, records_synced, error_message, stream_results`

// CreateSyncJob inserts a new job record in pending status
func (db *DB) CreateSyncJob(job *domain.SyncJob) error {
	streams, err := json.Marshal(job.Streams)
	if err != nil {
		return fmt.Errorf("failed to encode streams: %w", err)
	}

	query := `
		INSERT INTO sync_jobs (id, source_id, source_name, streams, sync_mode, status, created_at, records_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.Exec(query,
		job.ID,
		job.SourceID,
		job.SourceName,
		string(streams),
		string(job.Mode),
		string(job.Status),
		job.CreatedAt,
		job.RecordsSynced,
	)
	if IsDuplicate(err) {
		return fmt.Errorf("%w: job %s", ErrDuplicate, job.ID)
	}
	return err
}

// GetSyncJob retrieves a job by ID
func (db *DB) GetSyncJob(id string) (*domain.SyncJob, error) {
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE id = ?`
	row := db.QueryRow(query, id)

	job, err := scanSyncJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return job, nil
}

// ListSyncJobs retrieves jobs ordered newest-first, optionally filtered by
// status. limit <= 0 means no limit.
func (db *DB) ListSyncJobs(limit int, status *domain.JobStatus) ([]domain.SyncJob, error) {
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs`
	args := []any{}

	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}

	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []domain.SyncJob{}
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// MarkJobRunning transitions a job from pending to running. Returns
// ErrInvalidTransition when the job exists but is not pending.
func (db *DB) MarkJobRunning(id string, startedAt time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := db.Exec(query, string(domain.StatusRunning), startedAt, id, string(domain.StatusPending))
	if err != nil {
		return err
	}

	return db.checkTransition(result, id)
}

// AddJobProgress increments records_synced for a running job. The counter is
// monotonically non-decreasing: deltas are always additive.
func (db *DB) AddJobProgress(id string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("progress delta must be non-negative, got %d", delta)
	}

	query := `
		UPDATE sync_jobs
		SET records_synced = records_synced + ?
		WHERE id = ?
	`

	result, err := db.Exec(query, delta, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CompleteJob transitions a running job to a terminal state and freezes the
// record with its per-stream summary.
func (db *DB) CompleteJob(id string, status domain.JobStatus, completedAt time.Time, errorMessage *string, results []domain.StreamResult) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	var resultsJSON *string
	if len(results) > 0 {
		encoded, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("failed to encode stream results: %w", err)
		}
		s := string(encoded)
		resultsJSON = &s
	}

	query := `
		UPDATE sync_jobs
		SET status = ?, completed_at = ?, error_message = ?, stream_results = ?
		WHERE id = ? AND status = ?
	`

	result, err := db.Exec(query, string(status), completedAt, errorMessage, resultsJSON, id, string(domain.StatusRunning))
	if err != nil {
		return err
	}

	return db.checkTransition(result, id)
}

// CancelPendingJob transitions a pending job directly to cancelled; the job
// never started, so started_at stays null. Returns ErrInvalidTransition when
// the job is not pending.
func (db *DB) CancelPendingJob(id string, completedAt time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := db.Exec(query, string(domain.StatusCancelled), completedAt, id, string(domain.StatusPending))
	if err != nil {
		return err
	}

	return db.checkTransition(result, id)
}

// checkTransition distinguishes a missing job from a guarded update that
// matched zero rows because the job was in the wrong state.
func (db *DB) checkTransition(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sync_jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncJob(row rowScanner) (*domain.SyncJob, error) {
	var (
		job          domain.SyncJob
		streamsJSON  string
		mode         string
		status       string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		errorMessage sql.NullString
		resultsJSON  sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.SourceID,
		&job.SourceName,
		&streamsJSON,
		&mode,
		&status,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.RecordsSynced,
		&errorMessage,
		&resultsJSON,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(streamsJSON), &job.Streams); err != nil {
		return nil, fmt.Errorf("failed to decode streams for job %s: %w", job.ID, err)
	}
	if resultsJSON.Valid {
		if err := json.Unmarshal([]byte(resultsJSON.String), &job.StreamResults); err != nil {
			return nil, fmt.Errorf("failed to decode stream results for job %s: %w", job.ID, err)
		}
	}

	job.Mode = domain.SyncMode(mode)
	job.Status = domain.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if errorMessage.Valid {
		s := errorMessage.String
		job.ErrorMessage = &s
	}

	return &job, nil
}
