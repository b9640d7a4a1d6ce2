package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const maxRecentTasks = 20

var (
	// ErrSweepInProgress is returned when a sweep is triggered while another
	// one is still pending or running.
	ErrSweepInProgress = errors.New("sweep already in progress")
	// ErrStopped is returned when triggering a stopped runner.
	ErrStopped = errors.New("runner stopped")
)

// Status is the lifecycle state of a sweep task.
type Status string

// Task states.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Trigger sources.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Task is a snapshot of one background sweep.
type Task struct {
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Summary    *Summary  `json:"summary,omitempty"`
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Sweeper runs one sweep.
type Sweeper interface {
	CheckAll(ctx context.Context) (*Summary, error)
}

// Runner starts sweeps in the background, on a schedule or on demand, and
// allows at most one at a time.
type Runner struct {
	sweeper Sweeper
	logger  *slog.Logger
	cron    *cron.Cron
	active  *Task
	recent  []*Task
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewRunner creates a runner around sweeper.
func NewRunner(sweeper Sweeper, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sweeper: sweeper,
		logger:  logger,
	}
}

// Trigger starts a sweep in the background and returns its task. If a sweep
// is already active, the active task is returned with ErrSweepInProgress.
// The sweep keeps running when ctx is cancelled.
func (r *Runner) Trigger(ctx context.Context, trigger string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Task{}, ErrStopped
	}
	if r.active != nil {
		return *r.active, ErrSweepInProgress
	}

	t := &Task{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	r.active = t
	r.recent = append(r.recent, t)
	if len(r.recent) > maxRecentTasks {
		r.recent = r.recent[len(r.recent)-maxRecentTasks:]
	}

	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx), t)

	r.logger.Info("Sweep triggered", "task_id", t.ID, "trigger", trigger)
	return *t, nil
}

func (r *Runner) run(ctx context.Context, t *Task) {
	defer r.wg.Done()

	r.mu.Lock()
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	r.mu.Unlock()

	summary, err := r.safeCheckAll(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	t.FinishedAt = time.Now()
	t.Summary = summary
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		r.logger.Error("Sweep failed", "task_id", t.ID, "error", err)
	} else {
		t.Status = StatusDone
		r.logger.Info("Sweep finished", "task_id", t.ID, "duration_ms", t.FinishedAt.Sub(t.StartedAt).Milliseconds())
	}
	r.active = nil
}

func (r *Runner) safeCheckAll(ctx context.Context) (summary *Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.sweeper.CheckAll(ctx)
}

// Task returns a snapshot of a recent task.
func (r *Runner) Task(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.recent {
		if t.ID == id {
			return *t, true
		}
	}
	return Task{}, false
}

// Active returns the running or pending task, if any.
func (r *Runner) Active() (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Task{}, false
	}
	return *r.active, true
}

// Start schedules sweeps with a standard five-field cron spec evaluated in
// the named time zone. Ticks that land while a sweep is active are skipped.
func (r *Runner) Start(spec, timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("load time zone %q: %w", timezone, err)
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, r.scheduledSweep); err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return errors.New("schedule already started")
	}
	r.cron = c
	r.mu.Unlock()

	c.Start()
	r.logger.Info("Price check schedule started", "cron", spec, "timezone", timezone)
	return nil
}

func (r *Runner) scheduledSweep() {
	t, err := r.Trigger(context.Background(), TriggerSchedule)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		r.logger.Warn("Skipping scheduled sweep, previous sweep still active", "active_task_id", t.ID)
	case err != nil:
		r.logger.Warn("Scheduled sweep not started", "error", err)
	}
}

// Stop prevents future sweeps. A sweep that is already running is not
// interrupted; use Wait to block until it finishes.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	c := r.cron
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		r.logger.Info("Price check schedule stopped")
	}
}

// Wait blocks until the background sweep, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
