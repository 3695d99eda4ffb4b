package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrTaskTerminal is returned when a finished task is updated again.
var ErrTaskTerminal = errors.New("task already in a terminal state")

// ErrTaskExists is returned by Begin when the task id is already tracked.
var ErrTaskExists = errors.New("task already exists")

// ProgressStatus is the lifecycle state of an async task.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "PENDING"
	ProgressInProgress ProgressStatus = "IN_PROGRESS"
	ProgressCompleted  ProgressStatus = "COMPLETED"
	ProgressFailed     ProgressStatus = "FAILED"
	ProgressCancelled  ProgressStatus = "CANCELLED"
)

// IsTerminal reports whether the status is final.
func (s ProgressStatus) IsTerminal() bool {
	switch s {
	case ProgressCompleted, ProgressFailed, ProgressCancelled:
		return true
	default:
		return false
	}
}

// Progress describes one async task.
type Progress struct {
	TaskID     string         `json:"task_id"`
	InstanceID string         `json:"instance_id"`
	StepID     string         `json:"step_id"`
	Percent    int            `json:"percent"`
	Message    string         `json:"message,omitempty"`
	Status     ProgressStatus `json:"status"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
}

// ProgressTracker records the progress of async tasks. Terminal states are
// immutable: later updates return ErrTaskTerminal.
type ProgressTracker interface {
	GenerateTaskID() string
	// Begin registers a PENDING task owned by instanceID/stepID.
	Begin(ctx context.Context, taskID, instanceID, stepID, message string) error
	// UpdateProgress moves the task to IN_PROGRESS; percent is clamped to 0..100.
	UpdateProgress(ctx context.Context, taskID string, percent int, message string) error
	GetProgress(ctx context.Context, taskID string) (*Progress, error)
	IsCancelled(ctx context.Context, taskID string) (bool, error)
	CancelTask(ctx context.Context, taskID string) error
	// Complete marks the task COMPLETED at 100%.
	Complete(ctx context.Context, taskID, message string) error
	// Fail marks the task FAILED.
	Fail(ctx context.Context, taskID, message string) error
}

// ClampPercent bounds p to 0..100.
func ClampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// NewTaskID returns a random task id.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// MemoryProgressTracker is the in-process ProgressTracker.
type MemoryProgressTracker struct {
	mu    sync.RWMutex
	tasks map[string]*Progress
}

// NewMemoryProgressTracker creates an empty tracker.
func NewMemoryProgressTracker() *MemoryProgressTracker {
	return &MemoryProgressTracker{tasks: make(map[string]*Progress)}
}

func (t *MemoryProgressTracker) GenerateTaskID() string { return NewTaskID() }

func (t *MemoryProgressTracker) Begin(_ context.Context, taskID, instanceID, stepID, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[taskID]; ok {
		return fmt.Errorf("begin task %s: %w", taskID, ErrTaskExists)
	}
	t.tasks[taskID] = &Progress{
		TaskID:     taskID,
		InstanceID: instanceID,
		StepID:     stepID,
		Message:    message,
		Status:     ProgressPending,
		StartTime:  time.Now(),
	}
	return nil
}

func (t *MemoryProgressTracker) UpdateProgress(_ context.Context, taskID string, percent int, message string) error {
	return t.mutate(taskID, func(p *Progress) {
		p.Percent = ClampPercent(percent)
		p.Message = message
		p.Status = ProgressInProgress
	})
}

func (t *MemoryProgressTracker) GetProgress(_ context.Context, taskID string) (*Progress, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProgress(p), nil
}

func (t *MemoryProgressTracker) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	p, err := t.GetProgress(ctx, taskID)
	if err != nil {
		return false, err
	}
	return p.Status == ProgressCancelled, nil
}

func (t *MemoryProgressTracker) CancelTask(_ context.Context, taskID string) error {
	return t.finish(taskID, ProgressCancelled, "cancelled", false)
}

func (t *MemoryProgressTracker) Complete(_ context.Context, taskID, message string) error {
	return t.finish(taskID, ProgressCompleted, message, true)
}

func (t *MemoryProgressTracker) Fail(_ context.Context, taskID, message string) error {
	return t.finish(taskID, ProgressFailed, message, false)
}

func (t *MemoryProgressTracker) finish(taskID string, status ProgressStatus, message string, full bool) error {
	return t.mutate(taskID, func(p *Progress) {
		now := time.Now()
		p.Status = status
		p.Message = message
		p.EndTime = &now
		if full {
			p.Percent = 100
		}
	})
}

func (t *MemoryProgressTracker) mutate(taskID string, fn func(p *Progress)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if p.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	fn(p)
	return nil
}

func copyProgress(p *Progress) *Progress {
	cp := *p
	if p.EndTime != nil {
		end := *p.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// TaskProgressReporter is handed to async work to publish progress and poll cancellation.
type TaskProgressReporter interface {
	TaskID() string
	// Report publishes percent and message. Intermediate updates may be coalesced.
	Report(percent int, message string) error
	IsCancelled() bool
}

type taskReporter struct {
	ctx     context.Context
	taskID  string
	tracker ProgressTracker
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewTaskReporter returns a reporter writing to tracker. A zero limit disables throttling;
// otherwise non-final updates beyond limit per second are dropped.
func NewTaskReporter(ctx context.Context, tracker ProgressTracker, taskID string, limit rate.Limit) TaskProgressReporter {
	r := &taskReporter{ctx: ctx, taskID: taskID, tracker: tracker}
	if limit > 0 {
		r.limiter = rate.NewLimiter(limit, 1)
	}
	return r
}

func (r *taskReporter) TaskID() string { return r.taskID }

func (r *taskReporter) Report(percent int, message string) error {
	percent = ClampPercent(percent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent < 100 && r.limiter != nil && !r.limiter.Allow() {
		return nil
	}
	return r.tracker.UpdateProgress(r.ctx, r.taskID, percent, message)
}

func (r *taskReporter) IsCancelled() bool {
	cancelled, err := r.tracker.IsCancelled(r.ctx, r.taskID)
	return err == nil && cancelled
}
