// Package executor runs sync job pipelines under a bounded worker pool. Each
// job processes its streams in declared order through three stages: Explore
// (raw capture), Chart (validation and PII classification behind the quality
// gate), and Navigate (business aggregation).
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/lineage"
	"github.com/livinlefevreloca/waypoint/internal/quality"
)

// JobStore is the slice of persistence the executor needs to track job
// lifecycle and progress.
type JobStore interface {
	MarkJobRunning(id string, startedAt time.Time) error
	AddJobProgress(id string, delta int64) error
	CompleteJob(id string, status domain.JobStatus, completedAt time.Time, errorMessage *string, results []domain.StreamResult) error
}

// CursorStore is the slice of the state store the executor needs.
type CursorStore interface {
	Get(sourceID, stream string) (string, bool, error)
	Advance(sourceID, stream, cursor string, ordering domain.CursorOrdering, now time.Time) error
}

// Executor runs a single job's pipeline against its source.
type Executor struct {
	jobs       JobStore
	cursors    CursorStore
	gate       *quality.Gate
	engine     domain.QualityEngine
	layers     domain.LayerWriter
	aggregator domain.Aggregator
	tracker    lineage.Tracker
	config     Config
	logger     *slog.Logger
	clock      func() time.Time
}

// NewExecutor wires an executor with its collaborators.
func NewExecutor(
	jobs JobStore,
	cursors CursorStore,
	gate *quality.Gate,
	engine domain.QualityEngine,
	layers domain.LayerWriter,
	aggregator domain.Aggregator,
	tracker lineage.Tracker,
	config Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		jobs:       jobs,
		cursors:    cursors,
		gate:       gate,
		engine:     engine,
		layers:     layers,
		aggregator: aggregator,
		tracker:    tracker,
		config:     config,
		logger:     logger,
		clock:      time.Now,
	}
}

// streamOutcome carries what the job-level accounting needs from one stream.
type streamOutcome struct {
	result    domain.StreamResult
	maxCursor string
	outputs   []string
	promoted  bool
}

// Run executes the pipeline for one job. The job must already be in running
// status. Run always leaves the job in a terminal state; errors inside a job
// never escape to the pool.
func (e *Executor) Run(ctx context.Context, task *Task) {
	job := task.Job
	connector := task.Source.Connector
	ordering := connector.Ordering()

	inputs := make([]string, 0, len(job.Streams))
	for _, stream := range job.Streams {
		inputs = append(inputs, lineage.Dataset("explore", job.SourceID, stream))
	}
	e.emitLineage(ctx, lineage.Event{
		Type:       lineage.EventStart,
		JobID:      job.ID,
		Inputs:     inputs,
		OccurredAt: e.clock(),
	})

	outcomes := make([]streamOutcome, 0, len(job.Streams))
	cancelled := false

	for _, stream := range job.Streams {
		// Cancellation checkpoint between stream iterations.
		if e.checkpoint(ctx, task.Handle) {
			cancelled = true
			outcomes = append(outcomes, streamOutcome{result: domain.StreamResult{
				Stream: stream,
				Status: domain.StreamSkipped,
			}})
			continue
		}

		outcome := e.runStream(ctx, task, stream)
		outcomes = append(outcomes, outcome)

		if outcome.result.Records > 0 {
			if err := e.jobs.AddJobProgress(job.ID, outcome.result.Records); err != nil {
				e.logger.Error("failed to record job progress",
					"job_id", job.ID, "stream", stream, "error", err)
			}
		}
	}

	// A timeout or cancel that landed after the last stream still wins over
	// a success transition: the caller asked us to stop.
	if !cancelled && e.checkpoint(ctx, task.Handle) {
		cancelled = true
	}

	e.finish(ctx, task, inputs, outcomes, cancelled, ordering)
}

// runStream runs Explore, Chart, and Navigate for one stream. Failures are
// contained in the returned outcome; sibling streams are unaffected.
func (e *Executor) runStream(ctx context.Context, task *Task, stream string) streamOutcome {
	job := task.Job
	result := domain.StreamResult{Stream: stream}

	// Explore: fetch and persist the raw batch verbatim.
	cursor := ""
	if job.Mode == domain.SyncModeIncremental {
		stored, ok, err := e.cursors.Get(job.SourceID, stream)
		if err != nil {
			result.Status = domain.StreamFailed
			result.Error = fmt.Sprintf("failed to read cursor: %v", err)
			return streamOutcome{result: result}
		}
		if ok {
			cursor = stored
		}
	}

	batch, err := e.fetchWithRetry(ctx, task.Source.Connector, stream, cursor)
	if err != nil {
		result.Status = domain.StreamFailed
		result.Error = fmt.Sprintf("explore: %v", err)
		return streamOutcome{result: result}
	}
	batch.SourceID = job.SourceID
	batch.Stream = stream

	if err := e.layers.WriteRaw(ctx, job.ID, batch); err != nil {
		result.Status = domain.StreamFailed
		result.Error = fmt.Sprintf("explore: failed to persist raw batch: %v", err)
		return streamOutcome{result: result}
	}
	result.Records = int64(batch.Len())

	// Cancellation checkpoint between pipeline stages.
	if e.checkpoint(ctx, task.Handle) {
		result.Status = domain.StreamSkipped
		return streamOutcome{result: result}
	}

	// Chart: score the batch and apply the gate.
	qualityResult, err := e.engine.Assess(ctx, batch)
	if err != nil {
		result.Status = domain.StreamFailed
		result.Error = fmt.Sprintf("chart: quality assessment failed: %v", err)
		return streamOutcome{result: result}
	}

	report := e.gate.Evaluate(qualityResult)
	result.Score = report.Score

	if !report.Promotable() {
		e.logger.Warn("stream failed quality gate",
			"job_id", job.ID,
			"stream", stream,
			"score", report.Score)
		result.Status = domain.StreamFailedQuality
		result.Error = strings.Join(report.Warnings, "; ")
		return streamOutcome{result: result, maxCursor: batch.MaxCursor}
	}

	if err := e.layers.WriteValidated(ctx, job.ID, batch, qualityResult); err != nil {
		result.Status = domain.StreamFailed
		result.Error = fmt.Sprintf("chart: failed to persist validated batch: %v", err)
		return streamOutcome{result: result}
	}

	if e.checkpoint(ctx, task.Handle) {
		result.Status = domain.StreamSkipped
		return streamOutcome{result: result}
	}

	// Navigate: best effort. Raw and validated layers are already durable,
	// so aggregation failure degrades the stream to a warning.
	outputs, err := e.aggregator.Aggregate(ctx, job.ID, batch)
	switch {
	case err != nil:
		result.Status = domain.StreamWarned
		result.Error = fmt.Sprintf("navigate: aggregation failed: %v", err)
	case report.Decision == quality.DecisionWarn:
		result.Status = domain.StreamWarned
		result.Error = strings.Join(report.Warnings, "; ")
	default:
		result.Status = domain.StreamSucceeded
	}

	return streamOutcome{
		result:    result,
		maxCursor: batch.MaxCursor,
		outputs:   outputs,
		promoted:  true,
	}
}

// fetchWithRetry fetches a batch, retrying transient connector errors with
// exponential backoff up to the configured attempt bound. Permanent errors
// fail immediately.
func (e *Executor) fetchWithRetry(ctx context.Context, connector domain.Connector, stream, cursor string) (*domain.Batch, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.RetryInitialInterval
	bo.MaxInterval = e.config.RetryMaxInterval

	return backoff.Retry(ctx, func() (*domain.Batch, error) {
		batch, err := connector.FetchBatch(ctx, stream, cursor)
		if err != nil {
			if domain.IsTransient(err) {
				e.logger.Debug("transient connector error, will retry",
					"stream", stream, "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return batch, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(e.config.MaxFetchAttempts)))
}

// finish computes the terminal status, advances cursors for promoted streams,
// emits the lineage event, and freezes the job record.
func (e *Executor) finish(ctx context.Context, task *Task, inputs []string, outcomes []streamOutcome, cancelled bool, ordering domain.CursorOrdering) {
	job := task.Job
	now := e.clock()

	results := make([]domain.StreamResult, 0, len(outcomes))
	outputs := []string{}
	promotedStreams := 0
	issues := []string{}

	for _, outcome := range outcomes {
		results = append(results, outcome.result)
		if outcome.promoted {
			promotedStreams++
			outputs = append(outputs, outcome.outputs...)
		}
		if outcome.result.Error != "" {
			issues = append(issues, fmt.Sprintf("%s: %s", outcome.result.Stream, outcome.result.Error))
		}
	}

	var status domain.JobStatus
	switch {
	case cancelled:
		status = domain.StatusCancelled
	case promotedStreams == 0:
		status = domain.StatusFailed
	default:
		status = domain.StatusCompleted
	}

	// Cursors advance only for streams that produced validated output, and
	// only once the job is not being cancelled mid-write.
	if status == domain.StatusCompleted {
		for _, outcome := range outcomes {
			if !outcome.promoted || outcome.maxCursor == "" {
				continue
			}
			err := e.cursors.Advance(job.SourceID, outcome.result.Stream, outcome.maxCursor, ordering, now)
			if err != nil {
				// A stale write means a more recent job already advanced
				// this stream; the newer cursor stays authoritative.
				e.logger.Warn("cursor advance rejected",
					"job_id", job.ID,
					"stream", outcome.result.Stream,
					"error", err)
			}
		}
	}

	var errorMessage *string
	if len(issues) > 0 {
		msg := strings.Join(issues, "; ")
		errorMessage = &msg
	}

	if err := e.jobs.CompleteJob(job.ID, status, now, errorMessage, results); err != nil {
		e.logger.Error("failed to finalize job record",
			"job_id", job.ID, "status", string(status), "error", err)
	}

	switch status {
	case domain.StatusCompleted:
		e.emitLineage(ctx, lineage.Event{
			Type:       lineage.EventComplete,
			JobID:      job.ID,
			Inputs:     inputs,
			Outputs:    outputs,
			OccurredAt: now,
		})
	case domain.StatusFailed:
		failMsg := ""
		if errorMessage != nil {
			failMsg = *errorMessage
		}
		e.emitLineage(ctx, lineage.Event{
			Type:       lineage.EventFail,
			JobID:      job.ID,
			Error:      failMsg,
			OccurredAt: now,
		})
	}

	e.logger.Info("job finished",
		"job_id", job.ID,
		"status", string(status),
		"streams", len(outcomes),
		"promoted", promotedStreams)
}

// checkpoint reports whether the job should stop at this boundary, either
// from an explicit cancel request or from timeout expiry on the context.
func (e *Executor) checkpoint(ctx context.Context, handle *Handle) bool {
	return handle.Cancelled() || ctx.Err() != nil
}

// emitLineage sends a lineage event; emission failure never affects the job.
func (e *Executor) emitLineage(ctx context.Context, event lineage.Event) {
	if e.tracker == nil {
		return
	}
	if err := e.tracker.Emit(ctx, event); err != nil {
		e.logger.Warn("failed to emit lineage event",
			"job_id", event.JobID, "type", string(event.Type), "error", err)
	}
}
