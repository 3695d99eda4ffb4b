package workflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/BaSui01/flowgraph/types"
	"github.com/BaSui01/flowgraph/workflow/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubStep is one step inside a BranchExecutor or ParallelBranch.
type SubStep struct {
	ID       string
	Executor StepExecutor
	Retry    *retry.Policy
}

// execScope carries engine collaborators into composite executors.
type execScope struct {
	instanceID string
	workflowID string
	stepID     string
	listeners  stepListeners
	retry      retry.Listener
	logger     *zap.Logger
}

type scopeKey struct{}

func withScope(ctx context.Context, s *execScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) *execScope {
	if s, ok := ctx.Value(scopeKey{}).(*execScope); ok {
		return s
	}
	return &execScope{logger: zap.NewNop()}
}

// runSubStep executes sub under its retry policy and notifies the scope's listeners.
func runSubStep(ctx context.Context, scope *execScope, sub SubStep, input any, wctx ContextReader) (StepResult, error) {
	id := sub.ID
	if scope.stepID != "" {
		id = scope.stepID + "/" + sub.ID
	}
	ev := StepEvent{
		InstanceID: scope.instanceID,
		WorkflowID: scope.workflowID,
		StepID:     id,
		Input:      input,
		Snapshot:   snapshotOf(wctx),
	}
	scope.listeners.started(ctx, ev)

	start := time.Now()
	var retryListener retry.Listener
	if sub.Retry != nil {
		retryListener = scope.retry
	}
	exec := retry.NewExecutor(sub.Retry, retryListener, scope.logger)
	res, attempts, err := retry.DoWithResult(ctx, exec, id, func(ctx context.Context, _ int) (StepResult, error) {
		return invokeStep(ctx, id, sub.Executor, input, wctx)
	})
	ev.Attempts = attempts
	ev.Duration = time.Since(start)
	if err != nil {
		ev.Err = err
		scope.listeners.failed(ctx, ev)
		return nil, err
	}
	ev.Result = res
	scope.listeners.completed(ctx, ev)
	return res, nil
}

// invokeStep calls exec once, turning panics and empty results into errors.
func invokeStep(ctx context.Context, stepID string, exec StepExecutor, input any, wctx ContextReader) (res StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = types.Errorf(types.ErrStepFailed, "panic: %v", r).WithStep(stepID)
		}
	}()
	res, err = exec.Execute(ctx, input, wctx)
	if err == nil && res == nil {
		err = types.NewError(types.ErrStepFailed, "step returned no result").WithStep(stepID)
	}
	return res, err
}

func snapshotOf(wctx ContextReader) *Snapshot {
	switch c := wctx.(type) {
	case *Context:
		return c.Snapshot()
	case *Snapshot:
		return c
	}
	return nil
}

// BranchExecutor runs a linear sequence of sub-steps inside one graph node.
// Each Continue feeds the next sub-step; any other result ends the sequence
// and becomes the node's result.
type BranchExecutor struct {
	steps []SubStep
}

// NewBranchExecutor creates an inline branch. It panics on an empty sequence.
func NewBranchExecutor(steps ...SubStep) *BranchExecutor {
	if len(steps) == 0 {
		panic("workflow: branch executor requires at least one step")
	}
	return &BranchExecutor{steps: steps}
}

func (b *BranchExecutor) InputType() reflect.Type  { return b.steps[0].Executor.InputType() }
func (b *BranchExecutor) OutputType() reflect.Type { return b.steps[len(b.steps)-1].Executor.OutputType() }

func (b *BranchExecutor) Execute(ctx context.Context, input any, wctx ContextReader) (StepResult, error) {
	scope := scopeFrom(ctx)
	current := input
	for i, sub := range b.steps {
		if i > 0 {
			v, ok := Coerce(current, sub.Executor.InputType())
			if !ok {
				return nil, types.Errorf(types.ErrInputUnresolved, "sub-step %s cannot accept %s",
					sub.ID, TypeName(ValueType(current))).WithStep(scope.stepID)
			}
			current = v
		}
		res, err := runSubStep(ctx, scope, sub, current, wctx)
		if err != nil {
			return nil, fmt.Errorf("sub-step %s: %w", sub.ID, err)
		}
		c, ok := res.(Continue)
		if !ok {
			return res, nil
		}
		current = c.Data
	}
	return Continue{Data: current}, nil
}

// ParallelBranch runs sub-steps concurrently over the same input and
// aggregates their Continue outputs in declaration order.
type ParallelBranch[O any] struct {
	steps     []SubStep
	aggregate func(outputs []any) (O, error)
}

// NewParallelBranch creates a fan-out node. Every sub-step must accept the node's input.
func NewParallelBranch[O any](aggregate func(outputs []any) (O, error), steps ...SubStep) *ParallelBranch[O] {
	if len(steps) == 0 {
		panic("workflow: parallel branch requires at least one step")
	}
	return &ParallelBranch[O]{steps: steps, aggregate: aggregate}
}

// FanOut is a ParallelBranch producing the raw output slice.
func FanOut(steps ...SubStep) *ParallelBranch[[]any] {
	return NewParallelBranch(func(outputs []any) ([]any, error) { return outputs, nil }, steps...)
}

func (p *ParallelBranch[O]) InputType() reflect.Type  { return p.steps[0].Executor.InputType() }
func (p *ParallelBranch[O]) OutputType() reflect.Type { return TypeOf[O]() }

func (p *ParallelBranch[O]) Execute(ctx context.Context, input any, wctx ContextReader) (StepResult, error) {
	scope := scopeFrom(ctx)
	snap := snapshotOf(wctx)
	var reader ContextReader = snap
	if snap == nil {
		reader = wctx
	}

	outputs := make([]any, len(p.steps))
	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range p.steps {
		g.Go(func() error {
			in, ok := Coerce(input, sub.Executor.InputType())
			if !ok {
				return types.Errorf(types.ErrInputUnresolved, "sub-step %s cannot accept %s",
					sub.ID, TypeName(ValueType(input))).WithStep(scope.stepID)
			}
			res, err := runSubStep(gctx, scope, sub, in, reader)
			if err != nil {
				return fmt.Errorf("sub-step %s: %w", sub.ID, err)
			}
			c, ok := res.(Continue)
			if !ok {
				return types.Errorf(types.ErrStepFailed, "sub-step %s returned %s, parallel branches only continue",
					sub.ID, res.Kind()).WithStep(scope.stepID)
			}
			outputs[i] = c.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := p.aggregate(outputs)
	if err != nil {
		return nil, err
	}
	return Continue{Data: out}, nil
}
