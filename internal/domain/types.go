package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncMode controls how a job reads from a source stream.
type SyncMode string

const (
	// SyncModeFullRefresh re-fetches the entire stream, ignoring any stored cursor.
	SyncModeFullRefresh SyncMode = "full_refresh"
	// SyncModeIncremental fetches only records after the stored cursor.
	SyncModeIncremental SyncMode = "incremental"
)

// Valid reports whether the mode is one of the known sync modes.
func (m SyncMode) Valid() bool {
	return m == SyncModeFullRefresh || m == SyncModeIncremental
}

// JobStatus is the lifecycle status of a SyncJob.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state. Terminal jobs are frozen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether the status is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition:
//
//	pending --(slot acquired)--> running
//	pending --(cancel)--------> cancelled
//	running --(success)-------> completed
//	running --(hard failure)--> failed
//	running --(cancel)--------> cancelled
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// SyncJob is one execution of a sync pipeline against a source. It is created
// in pending status and mutated only by the executor until it reaches a
// terminal state, after which the record is frozen.
type SyncJob struct {
	ID         string   `json:"job_id"`
	SourceID   string   `json:"source_id"`
	SourceName string   `json:"source_name"`
	Streams    []string `json:"streams"`
	Mode       SyncMode `json:"sync_mode"`

	Status        JobStatus  `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RecordsSynced int64      `json:"records_synced"`
	ErrorMessage  *string    `json:"error_message,omitempty"`

	// StreamResults summarizes the per-stream outcome once the job is terminal.
	StreamResults []StreamResult `json:"stream_results,omitempty"`

	// Timeout is an optional wall-clock bound on execution. Zero means the
	// orchestrator default applies.
	Timeout time.Duration `json:"-"`
}

// DurationSeconds returns the wall-clock duration of the job, or nil until
// the job is terminal.
func (j *SyncJob) DurationSeconds() *float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return nil
	}
	d := j.CompletedAt.Sub(*j.StartedAt).Seconds()
	return &d
}

// MarshalJSON adds the derived duration_seconds field to the wire form.
func (j SyncJob) MarshalJSON() ([]byte, error) {
	type syncJobAlias SyncJob
	return json.Marshal(struct {
		syncJobAlias
		DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	}{syncJobAlias(j), j.DurationSeconds()})
}

// StreamStatus is the outcome of a single stream within a job.
type StreamStatus string

const (
	StreamSucceeded     StreamStatus = "succeeded"
	StreamWarned        StreamStatus = "warned"
	StreamFailed        StreamStatus = "failed"
	StreamFailedQuality StreamStatus = "failed_quality"
	StreamSkipped       StreamStatus = "skipped"
)

// StreamResult records what happened to one stream during a job.
type StreamResult struct {
	Stream  string       `json:"stream"`
	Status  StreamStatus `json:"status"`
	Records int64        `json:"records"`
	Score   float64      `json:"score,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ScheduledSync is a recurring sync definition driven by a cron expression.
// NextRunAt is owned exclusively by the scheduler: it is always in the future
// while the schedule is enabled and nil while disabled.
type ScheduledSync struct {
	ID             string   `json:"schedule_id"`
	SourceID       string   `json:"source_id"`
	SourceName     string   `json:"source_name"`
	Streams        []string `json:"streams"`
	Mode           SyncMode `json:"sync_mode"`
	CronExpression string   `json:"cron_expression"`
	Enabled        bool     `json:"enabled"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	RunCount  int64      `json:"run_count"`

	// DisabledReason is set when the scheduler disables a schedule because it
	// could not compute a next run time.
	DisabledReason string `json:"disabled_reason,omitempty"`
}

// SourceStreamState is the persisted incremental cursor for one stream of one
// source. Cursor is opaque to the engine; ordering is supplied by the connector.
type SourceStreamState struct {
	SourceID     string    `json:"source_id"`
	Stream       string    `json:"stream_name"`
	Cursor       string    `json:"cursor_value"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// StateSnapshot is the full export of orchestration state: every stream cursor
// and every schedule definition, sufficient to reconstruct a new instance.
type StateSnapshot struct {
	ExportedAt time.Time           `json:"exported_at"`
	Cursors    []SourceStreamState `json:"cursors"`
	Schedules  []ScheduledSync     `json:"schedules"`
}

// ValidateStreams checks the stream list shared by jobs and schedules:
// it must be non-empty and free of duplicates.
func ValidateStreams(streams []string) error {
	if len(streams) == 0 {
		return fmt.Errorf("streams must not be empty")
	}
	seen := make(map[string]struct{}, len(streams))
	for _, stream := range streams {
		if stream == "" {
			return fmt.Errorf("stream name must not be empty")
		}
		if _, ok := seen[stream]; ok {
			return fmt.Errorf("duplicate stream %q", stream)
		}
		seen[stream] = struct{}{}
	}
	return nil
}
