package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/queue"
)

// Config controls the worker pool and per-job retry behavior.
type Config struct {
	MaxConcurrentJobs    int           `toml:"max_concurrent_jobs"`
	QueueCapacity        int           `toml:"queue_capacity"`
	EnqueueTimeout       time.Duration `toml:"enqueue_timeout"`
	MaxFetchAttempts     int           `toml:"max_fetch_attempts"`
	RetryInitialInterval time.Duration `toml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `toml:"retry_max_interval"`
	DefaultJobTimeout    time.Duration `toml:"default_job_timeout"`
}

// DefaultConfig returns the pool defaults used when no config file overrides
// them.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:    4,
		QueueCapacity:        64,
		EnqueueTimeout:       5 * time.Second,
		MaxFetchAttempts:     4,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     30 * time.Second,
		DefaultJobTimeout:    30 * time.Minute,
	}
}

// Validate checks the config for values that would wedge the pool.
func (c Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.MaxFetchAttempts < 1 {
		return fmt.Errorf("max_fetch_attempts must be at least 1, got %d", c.MaxFetchAttempts)
	}
	return nil
}

// Task pairs a job with its source and cancellation handle for the trip
// through the queue.
type Task struct {
	Job    *domain.SyncJob
	Source *domain.Source
	Handle *Handle
}

// Handle is the cancellation control for one submitted job. Cancel requests
// take effect at the executor's next checkpoint; a job already past its last
// checkpoint finishes normally.
type Handle struct {
	jobID    string
	cancelCh chan struct{}
	once     sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewHandle creates a handle for the given job ID.
func NewHandle(jobID string) *Handle {
	return &Handle{
		jobID:    jobID,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. Safe to call multiple times.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		close(h.cancelCh)
	})
}

// Cancelled reports whether cancellation has been requested.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.cancelCh:
		return true
	default:
		return false
	}
}

// Done is closed when the job has reached a terminal state and its worker
// has moved on.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Release closes Done. The pool calls it when a worker finishes the task; a
// submitter calls it when a task never made it into the queue, so waiters on
// Done are not stranded. Safe to call multiple times.
func (h *Handle) Release() {
	h.doneOnce.Do(func() {
		close(h.done)
	})
}

// Pool is the fixed-size worker pool that bounds concurrent job execution.
// Jobs submitted past the bound wait in the queue in pending status.
type Pool struct {
	config  Config
	queue   *queue.Queue[*Task]
	exec    *Executor
	logger  *slog.Logger
	running atomic.Int64
	wg      sync.WaitGroup
}

// NewPool creates a pool around the given executor. Start must be called
// before any Submit.
func NewPool(config Config, exec *Executor, logger *slog.Logger) *Pool {
	return &Pool{
		config: config,
		queue:  queue.New[*Task](config.QueueCapacity, config.EnqueueTimeout, logger),
		exec:   exec,
		logger: logger,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.config.MaxConcurrentJobs; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "workers", p.config.MaxConcurrentJobs)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.queue.Chan() {
		p.queue.MarkDequeued()
		p.runTask(id, task)
	}
}

// Submit hands a task to the pool. It returns an error when the queue stayed
// full for the whole enqueue timeout.
func (p *Pool) Submit(task *Task) error {
	if !p.queue.Enqueue(task) {
		return fmt.Errorf("job queue full, could not enqueue job %s", task.Job.ID)
	}
	return nil
}

// runTask drives one job from pending to terminal. Panics inside a job are
// contained here so a misbehaving connector cannot take down a worker.
func (p *Pool) runTask(workerID int, task *Task) {
	defer task.Handle.Release()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"worker", workerID,
				"job_id", task.Job.ID,
				"panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			err := p.exec.jobs.CompleteJob(task.Job.ID, domain.StatusFailed, p.exec.clock(), &msg, nil)
			if err != nil {
				p.logger.Error("failed to record panicked job", "job_id", task.Job.ID, "error", err)
			}
		}
	}()

	// A job cancelled while still queued was already moved to cancelled in
	// the store; the worker just discards it.
	if task.Handle.Cancelled() {
		p.logger.Info("skipping cancelled job", "job_id", task.Job.ID)
		return
	}

	startedAt := p.exec.clock()
	if err := p.exec.jobs.MarkJobRunning(task.Job.ID, startedAt); err != nil {
		// Lost the race with a concurrent cancel; the job is terminal.
		p.logger.Warn("job not runnable, discarding",
			"job_id", task.Job.ID, "error", err)
		return
	}
	task.Job.Status = domain.StatusRunning
	task.Job.StartedAt = &startedAt

	p.running.Add(1)
	defer p.running.Add(-1)

	timeout := task.Job.Timeout
	if timeout <= 0 {
		timeout = p.config.DefaultJobTimeout
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Propagate handle cancellation into the job context so in-flight
	// fetches unblock instead of running to completion.
	go func() {
		select {
		case <-task.Handle.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	p.logger.Info("job started",
		"worker", workerID,
		"job_id", task.Job.ID,
		"source_id", task.Job.SourceID,
		"streams", len(task.Job.Streams),
		"mode", string(task.Job.Mode))

	p.exec.Run(ctx, task)
}

// MaxConcurrent returns the configured worker count.
func (p *Pool) MaxConcurrent() int {
	return p.config.MaxConcurrentJobs
}

// RunningCount returns the number of jobs currently executing.
func (p *Pool) RunningCount() int {
	return int(p.running.Load())
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	return p.queue.Len()
}

// QueueStats returns a snapshot of queue activity.
func (p *Pool) QueueStats() queue.Stats {
	return p.queue.Stats()
}

// Shutdown stops accepting work and waits for in-flight jobs to finish or
// for the context to expire. Queued tasks still drain through the workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown timed out with %d jobs running", p.RunningCount())
	}
}
