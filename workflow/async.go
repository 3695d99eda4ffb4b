package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/flowgraph/internal/ctxkeys"
	"github.com/BaSui01/flowgraph/types"
	"go.uber.org/zap"
)

// asyncJob is async work waiting to be handed to the worker pool.
type asyncJob struct {
	taskID     string
	instanceID string
	workflowID string
	stepID     string
	work       AsyncWork
}

// beginAsync registers the task and moves inst to WAITING_ASYNC. The work itself is
// submitted by drive once the instance is persisted.
func (e *Engine) beginAsync(ctx context.Context, g *Graph, inst *Instance, node *StepNode, a Async, attempts int, d time.Duration, seg *segment) {
	if a.Work == nil {
		e.fail(inst, types.NewError(types.ErrStepFailed, "async result carries no work").WithStep(node.ID()), seg)
		return
	}
	completion := a.CompletionStepID
	if completion == "" {
		completion = node.CompletionStepID()
	}
	if completion != "" {
		if _, ok := g.Node(completion); !ok {
			e.fail(inst, types.Errorf(types.ErrGraphInvalid, "unknown completion step %s", completion).WithStep(node.ID()), seg)
			return
		}
	}

	taskID := e.progress.GenerateTaskID()
	if err := e.progress.Begin(ctx, taskID, inst.ID, node.ID(), a.Message); err != nil {
		e.fail(inst, fmt.Errorf("register task %s: %w", taskID, err), seg)
		return
	}

	inst.recordOutput(node.ID(), OutcomeAsync, taskID, true, attempts, d)
	inst.Status = StatusWaitingAsync
	inst.PendingTaskID = taskID
	inst.PendingCompletionStepID = completion
	seg.pending = &asyncJob{
		taskID:     taskID,
		instanceID: inst.ID,
		workflowID: inst.WorkflowID,
		stepID:     node.ID(),
		work:       a.Work,
	}
	e.logger.Info("async task started",
		zap.String("instance_id", inst.ID),
		zap.String("step_id", node.ID()),
		zap.String("task_id", taskID),
		zap.String("completion_step", completion),
	)
}

func (e *Engine) submitAsync(job *asyncJob) error {
	return e.workers.Submit(e.baseCtx, job.taskID, func(ctx context.Context) error {
		ctx = ctxkeys.WithInstanceID(ctx, job.instanceID)
		ctx = ctxkeys.WithWorkflowID(ctx, job.workflowID)
		ctx = ctxkeys.WithStepID(ctx, job.stepID)
		ctx = ctxkeys.WithTaskID(ctx, job.taskID)

		// A task cancelled while queued stays CANCELLED.
		if err := e.progress.UpdateProgress(ctx, job.taskID, 0, "started"); err != nil && !errors.Is(err, ErrTaskTerminal) {
			e.logger.Warn("failed to mark task started",
				zap.String("task_id", job.taskID),
				zap.Error(err),
			)
		}

		reporter := NewTaskReporter(ctx, e.progress, job.taskID, e.progressRate)
		result, err := runWork(ctx, job.work, reporter)
		if err != nil {
			return e.OnError(ctx, job.taskID, err)
		}
		return e.OnComplete(ctx, job.taskID, result)
	})
}

func runWork(ctx context.Context, work AsyncWork, reporter TaskProgressReporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("async work panicked: %v", r)
		}
	}()
	return work(ctx, reporter)
}

// failAsyncSubmit fails a run whose work could not be scheduled.
func (e *Engine) failAsyncSubmit(ctx context.Context, inst *Instance, seg *segment, cause error) {
	taskID := inst.PendingTaskID
	_ = e.progress.Fail(ctx, taskID, cause.Error())
	err := types.Errorf(types.ErrInternalError, "schedule task %s", taskID).WithCause(cause)
	inst.PendingTaskID = ""
	inst.PendingCompletionStepID = ""
	e.fail(inst, err, seg)
	if saveErr := e.save(ctx, inst); saveErr != nil {
		e.logger.Error("failed to persist instance after scheduling error",
			zap.String("instance_id", inst.ID),
			zap.Error(saveErr),
		)
	}
}

// OnComplete reports successful completion of taskID. Work run by the engine calls
// it automatically; external executors may call it directly.
func (e *Engine) OnComplete(ctx context.Context, taskID string, result any) error {
	p, err := e.progress.GetProgress(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lookup task %s: %w", taskID, err)
	}
	if result != nil {
		e.registry.Register(ValueType(result))
	}
	ev, err := e.registry.Encode(result)
	if err != nil {
		return e.OnError(ctx, taskID, err)
	}
	return e.bus.Publish(ctx, &AsyncCompletion{
		TaskID:     taskID,
		InstanceID: p.InstanceID,
		StepID:     p.StepID,
		Result:     ev,
	})
}

// OnError reports failure of taskID.
func (e *Engine) OnError(ctx context.Context, taskID string, cause error) error {
	p, err := e.progress.GetProgress(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lookup task %s: %w", taskID, err)
	}
	msg := "async task failed"
	if cause != nil {
		msg = cause.Error()
	}
	return e.bus.Publish(ctx, &AsyncCompletion{
		TaskID:     taskID,
		InstanceID: p.InstanceID,
		StepID:     p.StepID,
		Error:      msg,
	})
}

// handleCompletion re-enters the graph for a finished task, serialized against the instance.
func (e *Engine) handleCompletion(ctx context.Context, c *AsyncCompletion) error {
	return e.locks.withLock(ctx, c.InstanceID, func(ctx context.Context) error {
		inst, g, err := e.load(ctx, c.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status != StatusWaitingAsync || inst.PendingTaskID != c.TaskID {
			e.logger.Warn("ignoring stale async completion",
				zap.String("instance_id", inst.ID),
				zap.String("task_id", c.TaskID),
				zap.String("status", string(inst.Status)),
			)
			return nil
		}

		cancelled, err := e.progress.IsCancelled(ctx, c.TaskID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("check task %s: %w", c.TaskID, err)
		}

		node, ok := g.Node(c.StepID)
		if !ok {
			return types.Errorf(types.ErrGraphInvalid, "async step %s no longer exists", c.StepID)
		}
		completion := inst.PendingCompletionStepID
		inst.Status = StatusRunning
		inst.PendingTaskID = ""
		inst.PendingCompletionStepID = ""

		seg := &segment{start: time.Now()}
		var failure error
		var value any
		switch {
		case cancelled:
			failure = types.Errorf(types.ErrTaskCancelled, "task %s was cancelled", c.TaskID).WithStep(node.ID())
		case c.Error != "":
			failure = types.NewError(types.ErrStepFailed, c.Error).WithStep(node.ID())
			e.markTask(ctx, c.TaskID, e.progress.Fail, c.Error)
		default:
			if value, err = e.registry.Decode(c.Result); err != nil {
				failure = err
				e.markTask(ctx, c.TaskID, e.progress.Fail, err.Error())
			} else {
				e.markTask(ctx, c.TaskID, e.progress.Complete, "completed")
			}
		}

		var next *StepNode
		if failure != nil {
			e.logger.Warn("async task did not complete",
				zap.String("instance_id", inst.ID),
				zap.String("task_id", c.TaskID),
				zap.Error(failure),
			)
			next = e.onFail(g, inst, node, failure, 0, 0, seg)
		} else {
			inst.recordOutput(node.ID(), OutcomeAsyncComplete, value, false, 0, 0)
			if completion != "" {
				next, _ = g.Node(completion)
				inst.Context.SetUserInput(value, ValueType(value))
			} else {
				var routeErr error
				if next, _, routeErr = e.router.FindNextStep(g, node.ID(), value); routeErr != nil {
					next = e.onFail(g, inst, node, routeErr, 0, 0, seg)
				}
			}
		}

		if inst.Status != StatusRunning {
			if err := e.save(ctx, inst); err != nil {
				return err
			}
			e.finishSegment(ctx, inst, seg)
			return nil
		}
		_, err = e.drive(ctx, g, inst, next)
		if err != nil && inst.Status == StatusFailed {
			// run failures are recorded on the instance
			return nil
		}
		return err
	})
}

func (e *Engine) markTask(ctx context.Context, taskID string, mark func(context.Context, string, string) error, msg string) {
	if err := mark(ctx, taskID, msg); err != nil && !errors.Is(err, ErrTaskTerminal) {
		e.logger.Warn("failed to update task progress",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

// Progress returns the progress of an async task.
func (e *Engine) Progress(ctx context.Context, taskID string) (*Progress, error) {
	p, err := e.progress.GetProgress(ctx, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "task %s not found", taskID).WithCause(err)
	}
	return p, err
}

// CancelTask requests cooperative cancellation. Running work is not interrupted; its
// eventual completion fails the step with TASK_CANCELLED.
func (e *Engine) CancelTask(ctx context.Context, taskID string) error {
	if err := e.progress.CancelTask(ctx, taskID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Errorf(types.ErrNotFound, "task %s not found", taskID).WithCause(err)
		}
		return err
	}
	e.logger.Info("async task cancellation requested", zap.String("task_id", taskID))
	return nil
}
