package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStepFailed, "step blew up").
		WithCause(root).
		WithStep("fetch").
		WithRetryable(true)

	assert.Equal(t, ErrStepFailed, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[STEP_FAILED] step fetch: step blew up: root", err.Error())
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrInputUnresolved, "no input of type %s", "string").WithStep("b")
	wrapped := fmt.Errorf("run aborted: %w", inner)

	got, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "b", got.StepID)
	assert.True(t, IsErrorCode(wrapped, ErrInputUnresolved))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_StringWithoutStep(t *testing.T) {
	t.Parallel()

	err := NewError(ErrGraphInvalid, "graph has no nodes")
	assert.Equal(t, "[GRAPH_INVALID] graph has no nodes", err.Error())
}
