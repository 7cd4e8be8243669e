// Package orchestrator is the facade over the sync engine: job submission and
// lifecycle, cancellation, stats, and state export/import. The scheduler and
// the HTTP layer both drive the engine exclusively through it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/waypoint/internal/cron"
	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/executor"
	"github.com/livinlefevreloca/waypoint/internal/state"
)

// Orchestrator coordinates job submission, execution, and state management
// for a fixed catalog of configured sources.
type Orchestrator struct {
	db      *db.DB
	cursors *state.Store
	pool    *executor.Pool
	sources map[string]*domain.Source
	logger  *slog.Logger
	clock   func() time.Time

	mu      sync.Mutex
	handles map[string]*executor.Handle
}

// New creates an orchestrator over a validated source catalog.
func New(database *db.DB, cursors *state.Store, pool *executor.Pool, sources []*domain.Source, logger *slog.Logger) (*Orchestrator, error) {
	catalog := make(map[string]*domain.Source, len(sources))
	for _, source := range sources {
		if err := source.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config for source %s: %w", source.ID, err)
		}
		if _, ok := catalog[source.ID]; ok {
			return nil, fmt.Errorf("duplicate source id %s", source.ID)
		}
		catalog[source.ID] = source
	}

	return &Orchestrator{
		db:      database,
		cursors: cursors,
		pool:    pool,
		sources: catalog,
		logger:  logger,
		clock:   time.Now,
		handles: make(map[string]*executor.Handle),
	}, nil
}

// Source returns a configured source by ID.
func (o *Orchestrator) Source(id string) (*domain.Source, error) {
	source, ok := o.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	return source, nil
}

// Sources returns the configured source catalog in ID order.
func (o *Orchestrator) Sources() []*domain.Source {
	sources := make([]*domain.Source, 0, len(o.sources))
	for _, source := range o.sources {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources
}

// SubmitJob validates a manual submission and queues it. The requested
// streams are checked against the connector's discovered catalog before the
// job record is created.
func (o *Orchestrator) SubmitJob(ctx context.Context, sourceID string, streams []string, mode domain.SyncMode) (*domain.SyncJob, error) {
	source, err := o.Source(sourceID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateStreams(streams); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid sync mode %q", mode)
	}

	available, err := source.Connector.DiscoverStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover streams for source %s: %w", sourceID, err)
	}
	known := make(map[string]struct{}, len(available))
	for _, stream := range available {
		known[stream] = struct{}{}
	}
	for _, stream := range streams {
		if _, ok := known[stream]; !ok {
			return nil, fmt.Errorf("%w: %q on source %s", domain.ErrStreamNotFound, stream, sourceID)
		}
	}

	return o.submit(source, streams, mode)
}

// SubmitScheduled queues a job on behalf of a firing schedule. Streams were
// validated when the schedule was created; a stream dropped by the source
// since then surfaces as a per-stream failure rather than blocking the
// scheduler loop on discovery.
func (o *Orchestrator) SubmitScheduled(schedule *domain.ScheduledSync) (*domain.SyncJob, error) {
	source, err := o.Source(schedule.SourceID)
	if err != nil {
		return nil, err
	}
	return o.submit(source, schedule.Streams, schedule.Mode)
}

func (o *Orchestrator) submit(source *domain.Source, streams []string, mode domain.SyncMode) (*domain.SyncJob, error) {
	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		SourceID:   source.ID,
		SourceName: source.Name,
		Streams:    streams,
		Mode:       mode,
		Status:     domain.StatusPending,
		CreatedAt:  o.clock(),
	}

	if err := o.db.CreateSyncJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	handle := executor.NewHandle(job.ID)
	o.registerHandle(job.ID, handle)

	task := &executor.Task{Job: job, Source: source, Handle: handle}
	if err := o.pool.Submit(task); err != nil {
		// Back out the record so a queue-full submission leaves no phantom
		// pending job behind. Releasing the handle closes Done, which lets
		// the reaper goroutine exit and drop the map entry.
		if cancelErr := o.db.CancelPendingJob(job.ID, o.clock()); cancelErr != nil {
			o.logger.Error("failed to back out unqueued job",
				"job_id", job.ID, "error", cancelErr)
		}
		handle.Release()
		return nil, err
	}

	o.logger.Info("job submitted",
		"job_id", job.ID,
		"source_id", source.ID,
		"streams", len(streams),
		"mode", string(mode))
	return job, nil
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) (*domain.SyncJob, error) {
	return o.db.GetSyncJob(id)
}

// ListJobs returns jobs newest-first, optionally filtered by status.
// limit <= 0 means no limit.
func (o *Orchestrator) ListJobs(limit int, status *domain.JobStatus) ([]domain.SyncJob, error) {
	return o.db.ListSyncJobs(limit, status)
}

// ListRunningJobs returns all jobs currently in running status.
func (o *Orchestrator) ListRunningJobs() ([]domain.SyncJob, error) {
	running := domain.StatusRunning
	return o.db.ListSyncJobs(0, &running)
}

// CancelJob requests cancellation of a job. Cancelling a terminal job is a
// no-op that returns the record unchanged. A pending job is cancelled
// synchronously; a running job is flagged and transitions at its executor's
// next checkpoint, so the returned record may still show running.
func (o *Orchestrator) CancelJob(id string) (*domain.SyncJob, error) {
	job, err := o.db.GetSyncJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	handle := o.handle(id)
	if handle != nil {
		handle.Cancel()
	}

	if job.Status == domain.StatusPending {
		err := o.db.CancelPendingJob(id, o.clock())
		if err != nil && !db.IsInvalidTransition(err) {
			return nil, err
		}
		// An invalid transition here means a worker won the race and the
		// job is running; the handle flag covers it from this point.
	}

	if handle == nil && job.Status == domain.StatusRunning {
		o.logger.Warn("no cancellation handle for running job", "job_id", id)
	}

	o.logger.Info("job cancellation requested", "job_id", id, "status", string(job.Status))
	return o.db.GetSyncJob(id)
}

// Stats is the aggregate view returned by GetStats.
type Stats struct {
	Jobs              db.JobCounts      `json:"jobs"`
	Schedules         db.ScheduleCounts `json:"schedules"`
	RunningJobs       int               `json:"running_jobs"`
	MaxConcurrentJobs int               `json:"max_concurrent_jobs"`
	QueueDepth        int               `json:"queue_depth"`
	QueueMaxDepth     int64             `json:"queue_max_depth"`
	EnqueueTimeouts   int64             `json:"enqueue_timeouts"`
}

// GetStats returns aggregate counters for jobs, schedules, and the queue.
func (o *Orchestrator) GetStats() (*Stats, error) {
	jobCounts, err := o.db.GetJobCounts()
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate jobs: %w", err)
	}
	scheduleCounts, err := o.db.GetScheduleCounts()
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate schedules: %w", err)
	}
	queueStats := o.pool.QueueStats()

	return &Stats{
		Jobs:              *jobCounts,
		Schedules:         *scheduleCounts,
		RunningJobs:       o.pool.RunningCount(),
		MaxConcurrentJobs: o.pool.MaxConcurrent(),
		QueueDepth:        queueStats.CurrentDepth,
		QueueMaxDepth:     queueStats.MaxDepthSeen,
		EnqueueTimeouts:   queueStats.Timeouts,
	}, nil
}

// ExportState captures every stream cursor and schedule definition in one
// portable snapshot.
func (o *Orchestrator) ExportState() (*domain.StateSnapshot, error) {
	cursors, err := o.cursors.Export()
	if err != nil {
		return nil, fmt.Errorf("failed to export cursors: %w", err)
	}
	schedules, err := o.db.ListSchedules()
	if err != nil {
		return nil, fmt.Errorf("failed to export schedules: %w", err)
	}

	return &domain.StateSnapshot{
		ExportedAt: o.clock(),
		Cursors:    cursors,
		Schedules:  schedules,
	}, nil
}

// ImportState atomically replaces all cursor and schedule state with the
// snapshot. The whole snapshot is validated first; any bad entry rejects the
// import and leaves existing state untouched.
func (o *Orchestrator) ImportState(snapshot *domain.StateSnapshot) error {
	if err := validateSnapshot(snapshot); err != nil {
		return err
	}
	if err := o.db.ImportSnapshot(snapshot); err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}

	o.logger.Info("state imported",
		"cursors", len(snapshot.Cursors),
		"schedules", len(snapshot.Schedules))
	return nil
}

func validateSnapshot(snapshot *domain.StateSnapshot) error {
	seenCursors := make(map[string]struct{}, len(snapshot.Cursors))
	for _, cursor := range snapshot.Cursors {
		if cursor.SourceID == "" || cursor.Stream == "" {
			return fmt.Errorf("cursor entry missing source or stream")
		}
		key := cursor.SourceID + "\x00" + cursor.Stream
		if _, ok := seenCursors[key]; ok {
			return fmt.Errorf("duplicate cursor entry for %s/%s", cursor.SourceID, cursor.Stream)
		}
		seenCursors[key] = struct{}{}
	}

	seenSchedules := make(map[string]struct{}, len(snapshot.Schedules))
	for _, schedule := range snapshot.Schedules {
		if schedule.ID == "" {
			return fmt.Errorf("schedule entry missing id")
		}
		if _, ok := seenSchedules[schedule.ID]; ok {
			return fmt.Errorf("duplicate schedule id %s", schedule.ID)
		}
		seenSchedules[schedule.ID] = struct{}{}

		if err := domain.ValidateStreams(schedule.Streams); err != nil {
			return fmt.Errorf("schedule %s: %w", schedule.ID, err)
		}
		if !schedule.Mode.Valid() {
			return fmt.Errorf("schedule %s: invalid sync mode %q", schedule.ID, schedule.Mode)
		}
		if _, err := cron.Parse(schedule.CronExpression); err != nil {
			return fmt.Errorf("schedule %s: invalid cron expression %q: %w", schedule.ID, schedule.CronExpression, err)
		}
	}

	return nil
}

// ResetCursors clears stored cursors for a source so its next incremental
// sync behaves as a full refresh. An empty stream clears every stream.
func (o *Orchestrator) ResetCursors(sourceID, stream string) error {
	if _, err := o.Source(sourceID); err != nil {
		return err
	}
	return o.cursors.Reset(sourceID, stream)
}

// Shutdown drains the worker pool, waiting up to the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.pool.Shutdown(ctx)
}

func (o *Orchestrator) registerHandle(jobID string, handle *executor.Handle) {
	o.mu.Lock()
	o.handles[jobID] = handle
	o.mu.Unlock()

	// Reap the entry once the job is terminal.
	go func() {
		<-handle.Done()
		o.dropHandle(jobID)
	}()
}

func (o *Orchestrator) handle(jobID string) *executor.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[jobID]
}

func (o *Orchestrator) dropHandle(jobID string) {
	o.mu.Lock()
	delete(o.handles, jobID)
	o.mu.Unlock()
}
