// Package scheduler owns scheduled sync definitions and fires them on their
// cron cadence. A single loop goroutine evaluates due schedules each tick and
// hands the resulting jobs to the orchestrator, so no schedule ever fires
// twice for the same due time.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/waypoint/internal/cron"
	"github.com/livinlefevreloca/waypoint/internal/domain"
)

// ScheduleStore is the persistence the scheduler needs. *db.DB satisfies it.
type ScheduleStore interface {
	CreateSchedule(schedule *domain.ScheduledSync) error
	GetSchedule(id string) (*domain.ScheduledSync, error)
	ListSchedules() ([]domain.ScheduledSync, error)
	DueSchedules(now time.Time) ([]domain.ScheduledSync, error)
	UpdateSchedule(schedule *domain.ScheduledSync) error
	DeleteSchedule(id string) error
	MarkScheduleFired(id string, lastRun time.Time, nextRun *time.Time) error
	AdvanceSchedule(id string, lastRun time.Time, nextRun time.Time) error
	DisableSchedule(id string, reason string) error
}

// Submitter turns a firing schedule into a queued sync job.
type Submitter interface {
	SubmitScheduled(schedule *domain.ScheduledSync) (*domain.SyncJob, error)
}

// Config controls the scheduler loop.
type Config struct {
	TickInterval time.Duration `toml:"tick_interval"`
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{TickInterval: time.Second}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	return nil
}

// Scheduler manages schedule definitions and the firing loop.
type Scheduler struct {
	store     ScheduleStore
	submitter Submitter
	config    Config
	logger    *slog.Logger
	clock     func() time.Time

	shutdown chan struct{}
	done     chan struct{}
}

// New creates a scheduler. Start must be called to begin firing.
func New(store ScheduleStore, submitter Submitter, config Config, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		store:     store,
		submitter: submitter,
		config:    config,
		logger:    logger,
		clock:     time.Now,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// CreateSchedule validates and persists a new schedule. An enabled schedule
// gets its first next_run_at computed from the cron expression immediately.
func (s *Scheduler) CreateSchedule(sourceID, sourceName string, streams []string, mode domain.SyncMode, cronExpression string, enabled bool) (*domain.ScheduledSync, error) {
	if err := domain.ValidateStreams(streams); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid sync mode %q", mode)
	}

	expr, err := cron.Parse(cronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpression, err)
	}

	now := s.clock()
	schedule := &domain.ScheduledSync{
		ID:             uuid.New().String(),
		SourceID:       sourceID,
		SourceName:     sourceName,
		Streams:        streams,
		Mode:           mode,
		CronExpression: cronExpression,
		Enabled:        enabled,
		CreatedAt:      now,
	}

	if enabled {
		next, err := expr.Next(now)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q never fires: %w", cronExpression, err)
		}
		schedule.NextRunAt = &next
	}

	if err := s.store.CreateSchedule(schedule); err != nil {
		return nil, err
	}

	s.logger.Info("schedule created",
		"schedule_id", schedule.ID,
		"source_id", sourceID,
		"cron", cronExpression,
		"enabled", enabled)
	return schedule, nil
}

// Patch holds the optional fields of a schedule update. Nil fields keep
// their current values.
type Patch struct {
	Streams        []string
	Mode           *domain.SyncMode
	CronExpression *string
	Enabled        *bool
}

// UpdateSchedule applies a patch to an existing schedule. Changing the cron
// expression or re-enabling recomputes next_run_at; disabling clears it.
func (s *Scheduler) UpdateSchedule(id string, patch Patch) (*domain.ScheduledSync, error) {
	schedule, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}

	if patch.Streams != nil {
		if err := domain.ValidateStreams(patch.Streams); err != nil {
			return nil, err
		}
		schedule.Streams = patch.Streams
	}
	if patch.Mode != nil {
		if !patch.Mode.Valid() {
			return nil, fmt.Errorf("invalid sync mode %q", *patch.Mode)
		}
		schedule.Mode = *patch.Mode
	}

	cronChanged := false
	if patch.CronExpression != nil && *patch.CronExpression != schedule.CronExpression {
		if _, err := cron.Parse(*patch.CronExpression); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", *patch.CronExpression, err)
		}
		schedule.CronExpression = *patch.CronExpression
		cronChanged = true
	}
	if patch.Enabled != nil {
		schedule.Enabled = *patch.Enabled
	}

	switch {
	case !schedule.Enabled:
		schedule.NextRunAt = nil
	case cronChanged || schedule.NextRunAt == nil:
		expr, err := cron.Parse(schedule.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", schedule.CronExpression, err)
		}
		next, err := expr.Next(s.clock())
		if err != nil {
			return nil, fmt.Errorf("cron expression %q never fires: %w", schedule.CronExpression, err)
		}
		schedule.NextRunAt = &next
		schedule.DisabledReason = ""
	}

	if err := s.store.UpdateSchedule(schedule); err != nil {
		return nil, err
	}

	s.logger.Info("schedule updated", "schedule_id", id, "enabled", schedule.Enabled)
	return schedule, nil
}

// DeleteSchedule removes a schedule. In-flight jobs it already spawned are
// unaffected.
func (s *Scheduler) DeleteSchedule(id string) error {
	if err := s.store.DeleteSchedule(id); err != nil {
		return err
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// GetSchedule returns one schedule by ID.
func (s *Scheduler) GetSchedule(id string) (*domain.ScheduledSync, error) {
	return s.store.GetSchedule(id)
}

// ListSchedules returns all schedules in ID order.
func (s *Scheduler) ListSchedules() ([]domain.ScheduledSync, error) {
	return s.store.ListSchedules()
}

// TriggerNow fires a schedule immediately. The run counts toward run_count
// and last_run_at but leaves the cron cadence untouched, and works on
// disabled schedules.
func (s *Scheduler) TriggerNow(id string) (*domain.SyncJob, error) {
	schedule, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}

	job, err := s.submitter.SubmitScheduled(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job for schedule %s: %w", id, err)
	}

	if err := s.store.MarkScheduleFired(id, s.clock(), nil); err != nil {
		s.logger.Error("failed to record manual trigger", "schedule_id", id, "error", err)
	}

	s.logger.Info("schedule triggered manually", "schedule_id", id, "job_id", job.ID)
	return job, nil
}

// Start launches the firing loop.
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info("scheduler started", "tick_interval", s.config.TickInterval)
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.shutdown)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(s.clock())
		}
	}
}

// Tick evaluates every due schedule once, in ascending ID order. Each due
// schedule fires at most once: next_run_at always moves past now, even when
// submission fails, so a full queue cannot make a schedule fire repeatedly
// for the same due time.
func (s *Scheduler) Tick(now time.Time) {
	due, err := s.store.DueSchedules(now)
	if err != nil {
		s.logger.Error("failed to query due schedules", "error", err)
		return
	}

	for i := range due {
		s.fire(&due[i], now)
	}
}

func (s *Scheduler) fire(schedule *domain.ScheduledSync, now time.Time) {
	expr, err := cron.Parse(schedule.CronExpression)
	if err != nil {
		s.disable(schedule.ID, fmt.Sprintf("invalid cron expression: %v", err))
		return
	}

	next, err := expr.Next(now)
	if err != nil {
		s.disable(schedule.ID, fmt.Sprintf("cron expression never fires again: %v", err))
		return
	}

	job, err := s.submitter.SubmitScheduled(schedule)
	if err != nil {
		// The fire is spent: next_run_at still moves to the next cadence
		// point rather than retrying this one. run_count counts submitted
		// jobs, so it stays put.
		s.logger.Error("failed to submit scheduled job",
			"schedule_id", schedule.ID,
			"source_id", schedule.SourceID,
			"error", err)
		if err := s.store.AdvanceSchedule(schedule.ID, now, next); err != nil {
			s.logger.Error("failed to advance schedule", "schedule_id", schedule.ID, "error", err)
		}
		return
	}

	s.logger.Info("schedule fired",
		"schedule_id", schedule.ID,
		"job_id", job.ID,
		"next_run_at", next)

	if err := s.store.MarkScheduleFired(schedule.ID, now, &next); err != nil {
		s.logger.Error("failed to advance schedule", "schedule_id", schedule.ID, "error", err)
	}
}

func (s *Scheduler) disable(id, reason string) {
	s.logger.Warn("disabling schedule", "schedule_id", id, "reason", reason)
	if err := s.store.DisableSchedule(id, reason); err != nil {
		s.logger.Error("failed to disable schedule", "schedule_id", id, "error", err)
	}
}
