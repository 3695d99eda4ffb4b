package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClampPercent(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, ClampPercent(-5))
	assert.Equal(t, 42, ClampPercent(42))
	assert.Equal(t, 100, ClampPercent(250))
}

func TestNewTaskID(t *testing.T) {
	t.Parallel()
	a, b := NewTaskID(), NewTaskID()
	assert.True(t, strings.HasPrefix(a, "task-"))
	assert.NotEqual(t, a, b)
}

func TestTaskReporter_Unthrottled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := NewMemoryProgressTracker()
	require.NoError(t, tracker.Begin(ctx, "t1", "inst", "step", ""))

	r := NewTaskReporter(ctx, tracker, "t1", 0)
	assert.Equal(t, "t1", r.TaskID())
	for _, pct := range []int{10, 20, 30} {
		require.NoError(t, r.Report(pct, "working"))
	}
	p, err := tracker.GetProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 30, p.Percent)
	assert.False(t, r.IsCancelled())

	require.NoError(t, tracker.CancelTask(ctx, "t1"))
	assert.True(t, r.IsCancelled())
}

func TestTaskReporter_ThrottlesIntermediateUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := NewMemoryProgressTracker()
	require.NoError(t, tracker.Begin(ctx, "t1", "inst", "step", ""))

	r := NewTaskReporter(ctx, tracker, "t1", rate.Limit(0.001))
	require.NoError(t, r.Report(10, "first"))
	require.NoError(t, r.Report(20, "dropped"))

	p, err := tracker.GetProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Percent)
	assert.Equal(t, "first", p.Message)

	require.NoError(t, r.Report(100, "final"))
	p, err = tracker.GetProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)
}

func TestProgressStatus_IsTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, ProgressPending.IsTerminal())
	assert.False(t, ProgressInProgress.IsTerminal())
	assert.True(t, ProgressCompleted.IsTerminal())
	assert.True(t, ProgressFailed.IsTerminal())
	assert.True(t, ProgressCancelled.IsTerminal())
}
