package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithInstanceID(ctx, "inst-1")
	ctx = WithWorkflowID(ctx, "wf")
	ctx = WithStepID(ctx, "step-a")
	ctx = WithTaskID(ctx, "task-1")

	for name, tc := range map[string]struct {
		get  func(context.Context) (string, bool)
		want string
	}{
		"trace":    {TraceID, "trace-1"},
		"instance": {InstanceID, "inst-1"},
		"workflow": {WorkflowID, "wf"},
		"step":     {StepID, "step-a"},
		"task":     {TaskID, "task-1"},
	} {
		v, ok := tc.get(ctx)
		assert.True(t, ok, name)
		assert.Equal(t, tc.want, v, name)
	}
}

func TestKeys_MissingOrEmpty(t *testing.T) {
	_, ok := InstanceID(context.Background())
	assert.False(t, ok)

	_, ok = StepID(WithStepID(context.Background(), ""))
	assert.False(t, ok)
}
