package workflow

import (
	"context"
	"time"
)

// StepEvent describes one step invocation. Snapshot is a detached copy of the
// run's context; listeners never see the live state.
type StepEvent struct {
	InstanceID string
	WorkflowID string
	StepID     string
	Input      any
	Result     StepResult
	Err        error
	Attempts   int
	Duration   time.Duration
	Snapshot   *Snapshot
}

// StepListener observes step execution. Sub-steps of a ParallelBranch report
// concurrently, so implementations must be safe for concurrent use.
type StepListener interface {
	OnStepStarted(ctx context.Context, ev StepEvent)
	OnStepCompleted(ctx context.Context, ev StepEvent)
	OnStepFailed(ctx context.Context, ev StepEvent)
}

// RunEvent describes a run segment that ended, either paused or terminal.
type RunEvent struct {
	InstanceID string
	WorkflowID string
	Status     InstanceStatus
	Result     any
	Err        error
	Duration   time.Duration
	Snapshot   *Snapshot
}

// RunListener observes run segments.
type RunListener interface {
	OnRunFinished(ctx context.Context, ev RunEvent)
}

type stepListeners []StepListener

func (ls stepListeners) started(ctx context.Context, ev StepEvent) {
	for _, l := range ls {
		l.OnStepStarted(ctx, ev)
	}
}

func (ls stepListeners) completed(ctx context.Context, ev StepEvent) {
	for _, l := range ls {
		l.OnStepCompleted(ctx, ev)
	}
}

func (ls stepListeners) failed(ctx context.Context, ev StepEvent) {
	for _, l := range ls {
		l.OnStepFailed(ctx, ev)
	}
}

// StepListenerFuncs adapts plain functions to StepListener; nil fields are skipped.
type StepListenerFuncs struct {
	Started   func(ctx context.Context, ev StepEvent)
	Completed func(ctx context.Context, ev StepEvent)
	Failed    func(ctx context.Context, ev StepEvent)
}

func (f StepListenerFuncs) OnStepStarted(ctx context.Context, ev StepEvent) {
	if f.Started != nil {
		f.Started(ctx, ev)
	}
}

func (f StepListenerFuncs) OnStepCompleted(ctx context.Context, ev StepEvent) {
	if f.Completed != nil {
		f.Completed(ctx, ev)
	}
}

func (f StepListenerFuncs) OnStepFailed(ctx context.Context, ev StepEvent) {
	if f.Failed != nil {
		f.Failed(ctx, ev)
	}
}

// RunListenerFunc adapts a function to RunListener.
type RunListenerFunc func(ctx context.Context, ev RunEvent)

func (f RunListenerFunc) OnRunFinished(ctx context.Context, ev RunEvent) { f(ctx, ev) }
