package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/flowgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asyncStep(work AsyncWork) StepExecutor {
	return NewStep[string, Report](func(_ context.Context, _ string, _ ContextReader) (StepResult, error) {
		return Async{Work: work, Message: "queued"}, nil
	})
}

func waitForStatus(t *testing.T, e *Engine, instanceID string, status InstanceStatus) *Instance {
	t.Helper()
	var inst *Instance
	require.Eventually(t, func() bool {
		got, err := e.Instance(context.Background(), instanceID)
		if err != nil {
			return false
		}
		inst = got
		return got.Status == status
	}, 5*time.Second, 5*time.Millisecond)
	return inst
}

func TestAsync_CompletionStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	work := func(_ context.Context, r TaskProgressReporter) (any, error) {
		_ = r.Report(50, "half way")
		return Report{Pages: 3}, nil
	}
	g := mustBuild(t, NewGraphBuilder("render").
		AddStep("render", asyncStep(work)).Initial().CompleteWith("publish").Done().
		Step("publish", finishWith(func(r Report) any { return r.Pages })))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingAsync, res.Status)
	require.NotEmpty(t, res.TaskID)

	inst := waitForStatus(t, e, res.InstanceID, StatusCompleted)
	assert.Equal(t, 3, inst.Result)
	assert.Empty(t, inst.PendingTaskID)
	assert.Equal(t, []string{"render"}, stepIDs(inst.History(), OutcomeAsync))
	assert.Equal(t, []string{"render"}, stepIDs(inst.History(), OutcomeAsyncComplete))

	p, err := e.Progress(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, ProgressCompleted, p.Status)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, res.InstanceID, p.InstanceID)
	assert.Equal(t, "render", p.StepID)

	require.Eventually(t, func() bool { return e.WorkerStats().Completed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, e.WorkerStats().Rejected)
}

func TestAsync_RunningTaskIsInProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	work := func(context.Context, TaskProgressReporter) (any, error) {
		<-release
		return Report{Pages: 1}, nil
	}
	g := mustBuild(t, NewGraphBuilder("render").
		Step("render", asyncStep(work), AsInitial()).
		Step("publish", finishWith(func(r Report) any { return r.Pages })).
		Then("render", "publish"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, err := e.Progress(ctx, res.TaskID)
		return err == nil && p.Status == ProgressInProgress
	}, 5*time.Second, 5*time.Millisecond)
	p, err := e.Progress(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Percent)
	assert.Equal(t, "started", p.Message)

	unblock()
	waitForStatus(t, e, res.InstanceID, StatusCompleted)
}

func TestAsync_CompletionsForDistinctInstancesRunConcurrently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	blocking := NewStep[Report, any](func(_ context.Context, r Report, _ ContextReader) (StepResult, error) {
		close(entered)
		<-release
		return FinishWith(r.Pages), nil
	})
	work := func(context.Context, TaskProgressReporter) (any, error) {
		return Report{Pages: 1}, nil
	}
	require.NoError(t, e.Register(mustBuild(t, NewGraphBuilder("slow").
		AddStep("render", asyncStep(work)).Initial().CompleteWith("publish").Done().
		Step("publish", blocking))))
	require.NoError(t, e.Register(mustBuild(t, NewGraphBuilder("fast").
		AddStep("render", asyncStep(work)).Initial().CompleteWith("publish").Done().
		Step("publish", finishWith(func(r Report) any { return r.Pages })))))

	slow, err := e.Start(ctx, "slow", "doc")
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("slow completion step never started")
	}

	fast, err := e.Start(ctx, "fast", "doc")
	require.NoError(t, err)
	waitForStatus(t, e, fast.InstanceID, StatusCompleted)

	inst, err := e.Instance(ctx, slow.InstanceID)
	require.NoError(t, err)
	assert.NotEqual(t, StatusCompleted, inst.Status)

	unblock()
	waitForStatus(t, e, slow.InstanceID, StatusCompleted)
}

func TestAsync_RoutesResultWithoutCompletionStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	work := func(context.Context, TaskProgressReporter) (any, error) {
		return Report{Pages: 9}, nil
	}
	g := mustBuild(t, NewGraphBuilder("render").
		Step("render", asyncStep(work), AsInitial()).
		Step("publish", finishWith(func(r Report) any { return r.Pages * 2 })).
		Then("render", "publish"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)

	inst := waitForStatus(t, e, res.InstanceID, StatusCompleted)
	assert.Equal(t, 18, inst.Result)
}

func TestAsync_WorkErrorFailsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	work := func(context.Context, TaskProgressReporter) (any, error) {
		return nil, errors.New("renderer crashed")
	}
	g := mustBuild(t, NewGraphBuilder("render").Step("render", asyncStep(work), AsInitial()))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)

	inst := waitForStatus(t, e, res.InstanceID, StatusFailed)
	assert.Contains(t, inst.Error, "renderer crashed")
	assert.Contains(t, inst.Error, string(types.ErrStepFailed))

	p, err := e.Progress(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, ProgressFailed, p.Status)
}

func TestAsync_WorkErrorFollowsErrorEdge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	work := func(context.Context, TaskProgressReporter) (any, error) {
		return nil, errors.New("timeout")
	}
	g := mustBuild(t, NewGraphBuilder("render").
		Step("render", asyncStep(work), AsInitial()).
		Step("fallback", finishWith(func(err error) any { return "fallback: " + err.Error() })).
		OnError("render", "fallback"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)

	inst := waitForStatus(t, e, res.InstanceID, StatusCompleted)
	assert.Contains(t, inst.Result, "fallback:")
	assert.Contains(t, inst.Result, "timeout")
}

func TestAsync_CancelledTaskFailsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	started := make(chan struct{})
	work := func(ctx context.Context, r TaskProgressReporter) (any, error) {
		close(started)
		for !r.IsCancelled() {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Millisecond):
			}
		}
		return Report{Pages: 1}, nil
	}
	g := mustBuild(t, NewGraphBuilder("render").
		Step("render", asyncStep(work), AsInitial()).
		Step("publish", finishWith(func(r Report) any { return r.Pages })).
		Then("render", "publish"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)
	<-started
	require.NoError(t, e.CancelTask(ctx, res.TaskID))

	inst := waitForStatus(t, e, res.InstanceID, StatusFailed)
	assert.Contains(t, inst.Error, string(types.ErrTaskCancelled))

	p, err := e.Progress(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, ProgressCancelled, p.Status)
}

func TestAsync_PanickingWorkFailsRun(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	work := func(context.Context, TaskProgressReporter) (any, error) {
		panic("gpu on fire")
	}
	g := mustBuild(t, NewGraphBuilder("render").Step("render", asyncStep(work), AsInitial()))
	require.NoError(t, e.Register(g))

	res, err := e.Start(context.Background(), "render", "doc")
	require.NoError(t, err)

	inst := waitForStatus(t, e, res.InstanceID, StatusFailed)
	assert.Contains(t, inst.Error, "gpu on fire")
}

func TestAsync_PanickingConditionAfterCompletionFailsRun(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	work := func(context.Context, TaskProgressReporter) (any, error) {
		return Report{Pages: 4}, nil
	}
	g := mustBuild(t, NewGraphBuilder("render").
		Step("render", asyncStep(work), AsInitial()).
		Step("publish", finishWith(func(r Report) any { return r.Pages })).
		When("render", "publish", func(any) bool { panic("bad predicate") }, "explodes"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(context.Background(), "render", "doc")
	require.NoError(t, err)

	inst := waitForStatus(t, e, res.InstanceID, StatusFailed)
	assert.Contains(t, inst.Error, "bad predicate")
	assert.Contains(t, inst.Error, string(types.ErrStepFailed))
}

func TestAsync_MissingWorkFailsRun(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	g := mustBuild(t, NewGraphBuilder("render").Step("render", asyncStep(nil), AsInitial()))
	require.NoError(t, e.Register(g))

	res, err := e.Start(context.Background(), "render", "doc")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, types.IsErrorCode(err, types.ErrStepFailed))
}

func TestAsync_UnknownTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Progress(ctx, "task-missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
	assert.True(t, types.IsErrorCode(e.CancelTask(ctx, "task-missing"), types.ErrNotFound))
	assert.ErrorIs(t, e.OnComplete(ctx, "task-missing", 1), ErrNotFound)
}

func TestAsync_StaleCompletionIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	work := func(context.Context, TaskProgressReporter) (any, error) {
		return Report{Pages: 2}, nil
	}
	g := mustBuild(t, NewGraphBuilder("render").
		Step("render", asyncStep(work), AsInitial()).
		Step("publish", finishWith(func(r Report) any { return r.Pages })).
		Then("render", "publish"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "render", "doc")
	require.NoError(t, err)
	waitForStatus(t, e, res.InstanceID, StatusCompleted)

	err = e.handleCompletion(ctx, &AsyncCompletion{
		TaskID:     res.TaskID,
		InstanceID: res.InstanceID,
		StepID:     "render",
	})
	require.NoError(t, err)

	inst, err := e.Instance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, inst.Status)
	assert.Equal(t, 2, inst.Result)
}
