package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

const scheduleColumns = `id, source_id, source_name, streams, sync_mode, cron_expression,
	enabled, created_at, last_run_at, next_run_at, run_count, disabled_reason`

// CreateSchedule inserts a new schedule
func (db *DB) CreateSchedule(schedule *domain.ScheduledSync) error {
	streams, err := json.Marshal(schedule.Streams)
	if err != nil {
		return fmt.Errorf("failed to encode streams: %w", err)
	}

	query := `
		INSERT INTO schedules (id, source_id, source_name, streams, sync_mode, cron_expression,
			enabled, created_at, last_run_at, next_run_at, run_count, disabled_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.Exec(query,
		schedule.ID,
		schedule.SourceID,
		schedule.SourceName,
		string(streams),
		string(schedule.Mode),
		schedule.CronExpression,
		schedule.Enabled,
		schedule.CreatedAt,
		schedule.LastRunAt,
		schedule.NextRunAt,
		schedule.RunCount,
		schedule.DisabledReason,
	)
	if IsDuplicate(err) {
		return fmt.Errorf("%w: schedule %s", ErrDuplicate, schedule.ID)
	}
	return err
}

// GetSchedule retrieves a schedule by ID
func (db *DB) GetSchedule(id string) (*domain.ScheduledSync, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	schedule, err := scanSchedule(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return schedule, nil
}

// ListSchedules retrieves all schedules in ascending ID order. The ordering is
// load-bearing: the scheduler relies on it for deterministic tie-breaks.
func (db *DB) ListSchedules() ([]domain.ScheduledSync, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY id ASC`
	return db.querySchedules(query)
}

// DueSchedules retrieves enabled schedules whose next run time has arrived,
// in ascending ID order.
func (db *DB) DueSchedules(now time.Time) ([]domain.ScheduledSync, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY id ASC`
	return db.querySchedules(query, now)
}

func (db *DB) querySchedules(query string, args ...any) ([]domain.ScheduledSync, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []domain.ScheduledSync{}
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return schedules, nil
}

// UpdateSchedule replaces the mutable fields of a schedule
func (db *DB) UpdateSchedule(schedule *domain.ScheduledSync) error {
	streams, err := json.Marshal(schedule.Streams)
	if err != nil {
		return fmt.Errorf("failed to encode streams: %w", err)
	}

	query := `
		UPDATE schedules
		SET streams = ?, sync_mode = ?, cron_expression = ?, enabled = ?,
			last_run_at = ?, next_run_at = ?, run_count = ?, disabled_reason = ?
		WHERE id = ?
	`

	result, err := db.Exec(query,
		string(streams),
		string(schedule.Mode),
		schedule.CronExpression,
		schedule.Enabled,
		schedule.LastRunAt,
		schedule.NextRunAt,
		schedule.RunCount,
		schedule.DisabledReason,
		schedule.ID,
	)
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

// DeleteSchedule deletes a schedule by ID
func (db *DB) DeleteSchedule(id string) error {
	result, err := db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
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

// MarkScheduleFired records one firing: last_run_at is set, run_count is
// incremented, and next_run_at is replaced when nextRun is non-nil (a nil
// nextRun leaves the cron cadence untouched, used by manual triggers).
func (db *DB) MarkScheduleFired(id string, lastRun time.Time, nextRun *time.Time) error {
	var (
		result sql.Result
		err    error
	)

	if nextRun != nil {
		result, err = db.Exec(`
			UPDATE schedules
			SET last_run_at = ?, next_run_at = ?, run_count = run_count + 1
			WHERE id = ?`, lastRun, *nextRun, id)
	} else {
		result, err = db.Exec(`
			UPDATE schedules
			SET last_run_at = ?, run_count = run_count + 1
			WHERE id = ?`, lastRun, id)
	}
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

// AdvanceSchedule moves a schedule past a spent firing without counting a
// run: last_run_at and next_run_at advance, run_count stays, because no job
// was actually submitted.
func (db *DB) AdvanceSchedule(id string, lastRun time.Time, nextRun time.Time) error {
	result, err := db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, next_run_at = ?
		WHERE id = ?`, lastRun, nextRun, id)
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

// DisableSchedule disables a schedule and records why. next_run_at is cleared
// to uphold the invariant that disabled schedules carry no next run time.
func (db *DB) DisableSchedule(id string, reason string) error {
	query := `
		UPDATE schedules
		SET enabled = 0, next_run_at = NULL, disabled_reason = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, reason, id)
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

func scanSchedule(row rowScanner) (*domain.ScheduledSync, error) {
	var (
		schedule    domain.ScheduledSync
		streamsJSON string
		mode        string
		lastRunAt   sql.NullTime
		nextRunAt   sql.NullTime
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.SourceID,
		&schedule.SourceName,
		&streamsJSON,
		&mode,
		&schedule.CronExpression,
		&schedule.Enabled,
		&schedule.CreatedAt,
		&lastRunAt,
		&nextRunAt,
		&schedule.RunCount,
		&schedule.DisabledReason,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(streamsJSON), &schedule.Streams); err != nil {
		return nil, fmt.Errorf("failed to decode streams for schedule %s: %w", schedule.ID, err)
	}

	schedule.Mode = domain.SyncMode(mode)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		schedule.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		schedule.NextRunAt = &t
	}

	return &schedule, nil
}
