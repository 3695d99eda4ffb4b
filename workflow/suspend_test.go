package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/flowgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func askName() StepExecutor {
	return NewStep[string, Name](func(_ context.Context, q string, _ ContextReader) (StepResult, error) {
		return SuspendFor[Name](q), nil
	})
}

func greetGraph(t *testing.T) *Graph {
	t.Helper()
	return mustBuild(t, NewGraphBuilder("greet").
		Step("ask", askName(), AsInitial()).
		Step("greet", finishWith(func(n Name) any { return "hello " + n.Value })).
		Then("ask", "greet"))
}

func TestResume_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Register(greetGraph(t)))

	res, err := e.Start(ctx, "greet", "what is your name?")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, "what is your name?", res.Prompt)

	data, err := e.Suspension(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "ask", data.StepID)
	assert.Equal(t, res.MessageID, data.MessageID)
	assert.Equal(t, TypeName(TypeOf[Name]()), data.AnswerType)

	inst, err := e.Instance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, inst.Status)
	assert.Equal(t, res.MessageID, inst.PendingMessageID)

	final, err := e.Resume(ctx, res.MessageID, Name{Value: "bob"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "hello bob", final.Result)

	inst, err = e.Instance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Empty(t, inst.PendingMessageID)
	assert.Equal(t, []string{"ask"}, stepIDs(inst.History(), OutcomeResumed))

	_, err = e.Suspension(ctx, res.InstanceID)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestResume_RawJSONAnswer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Register(greetGraph(t)))

	for _, answer := range []any{
		`{"value":"ann"}`,
		json.RawMessage(`{"value":"ann"}`),
		[]byte(`{"value":"ann"}`),
	} {
		res, err := e.Start(ctx, "greet", "name?")
		require.NoError(t, err)
		final, err := e.Resume(ctx, res.MessageID, answer)
		require.NoError(t, err)
		assert.Equal(t, "hello ann", final.Result)
	}
}

func TestResume_MismatchKeepsRunSuspended(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Register(greetGraph(t)))

	res, err := e.Start(ctx, "greet", "name?")
	require.NoError(t, err)

	_, err = e.Resume(ctx, res.MessageID, 42)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSuspensionInvalid))
	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "ask", te.StepID)

	_, err = e.Resume(ctx, res.MessageID, `{"value": 7}`)
	assert.True(t, types.IsErrorCode(err, types.ErrSuspensionInvalid))

	inst, err := e.Instance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, inst.Status)

	final, err := e.Resume(ctx, res.MessageID, Name{Value: "eve"})
	require.NoError(t, err)
	assert.Equal(t, "hello eve", final.Result)
}

func TestResume_SchemaValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	ask := NewStep[string, int](func(_ context.Context, q string, _ ContextReader) (StepResult, error) {
		return Suspend{
			MessageID:  "age-question",
			Prompt:     q,
			AnswerType: TypeOf[int](),
			Schema:     `{"type":"integer","minimum":18}`,
		}, nil
	})
	g := mustBuild(t, NewGraphBuilder("age").
		Step("ask", ask, AsInitial()).
		Step("check", finishWith(func(age int) any { return age >= 18 })).
		Then("ask", "check"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "age", "how old are you?")
	require.NoError(t, err)
	assert.Equal(t, "age-question", res.MessageID)

	_, err = e.Resume(ctx, "age-question", 12)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSuspensionInvalid))
	assert.Contains(t, err.Error(), "schema")

	final, err := e.Resume(ctx, "age-question", 30)
	require.NoError(t, err)
	assert.Equal(t, true, final.Result)
}

func TestSuspend_InvalidSchemaFailsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	ask := NewStep[string, int](func(_ context.Context, q string, _ ContextReader) (StepResult, error) {
		return Suspend{Prompt: q, AnswerType: TypeOf[int](), Schema: `{"type": 5`}, nil
	})
	g := mustBuild(t, NewGraphBuilder("broken").Step("ask", ask, AsInitial()))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "broken", "?")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, types.IsErrorCode(err, types.ErrSuspensionInvalid))
}

func TestResume_UnknownAndRepeatedMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Register(greetGraph(t)))

	_, err := e.Resume(ctx, "msg-missing", Name{Value: "x"})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	res, err := e.Start(ctx, "greet", "name?")
	require.NoError(t, err)
	_, err = e.Resume(ctx, res.MessageID, Name{Value: "x"})
	require.NoError(t, err)

	_, err = e.Resume(ctx, res.MessageID, Name{Value: "y"})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

// flakyDeleteSuspensions fails the first DeleteByInstanceID call.
type flakyDeleteSuspensions struct {
	*MemorySuspensionRepository
	failed atomic.Bool
}

func (r *flakyDeleteSuspensions) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	if r.failed.CompareAndSwap(false, true) {
		return errors.New("connection reset")
	}
	return r.MemorySuspensionRepository.DeleteByInstanceID(ctx, instanceID)
}

func TestResume_FailedSuspensionDeleteStillFinishesRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &flakyDeleteSuspensions{MemorySuspensionRepository: NewMemorySuspensionRepository()}
	e := newTestEngine(t, WithSuspensionRepository(repo))
	require.NoError(t, e.Register(greetGraph(t)))

	res, err := e.Start(ctx, "greet", "name?")
	require.NoError(t, err)

	final, err := e.Resume(ctx, res.MessageID, Name{Value: "ana"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "hello ana", final.Result)
	assert.True(t, repo.failed.Load())

	inst, err := e.Instance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, inst.Status)

	// The leftover record cannot resume the run a second time.
	_, err = e.Resume(ctx, res.MessageID, Name{Value: "again"})
	assert.True(t, types.IsErrorCode(err, types.ErrInstanceState))
}

func TestResume_PanickingConditionFailsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	g := mustBuild(t, NewGraphBuilder("greet").
		Step("ask", askName(), AsInitial()).
		Step("greet", finishWith(func(n Name) any { return "hello " + n.Value })).
		When("ask", "greet", func(any) bool { panic("boom") }, "explodes"))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "greet", "name?")
	require.NoError(t, err)

	final, err := e.Resume(ctx, res.MessageID, Name{Value: "ana"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStepFailed))
	require.NotNil(t, final)
	assert.Equal(t, StatusFailed, final.Status)

	inst, err := e.Instance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, inst.Status)
	assert.Contains(t, inst.Error, "boom")
}

func TestResume_WithoutSuccessorCompletesWithAnswer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	g := mustBuild(t, NewGraphBuilder("solo").Step("ask", askName(), AsInitial()))
	require.NoError(t, e.Register(g))

	res, err := e.Start(ctx, "solo", "name?")
	require.NoError(t, err)

	final, err := e.Resume(ctx, res.MessageID, Name{Value: "kim"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, Name{Value: "kim"}, final.Result)
}

func TestResume_AcrossEngines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryInstanceStore()
	suspensions := NewMemorySuspensionRepository()

	first := newTestEngine(t, WithInstanceStore(store), WithSuspensionRepository(suspensions))
	require.NoError(t, first.Register(greetGraph(t)))
	res, err := first.Start(ctx, "greet", "name?")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second := newTestEngine(t, WithInstanceStore(store), WithSuspensionRepository(suspensions))
	require.NoError(t, second.Register(greetGraph(t)))
	final, err := second.Resume(ctx, res.MessageID, `{"value":"lee"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello lee", final.Result)
}

func TestDecodeAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		answer   any
		expected any
		want     any
		wantErr  bool
	}{
		{name: "string passes through", answer: "yes", expected: "", want: "yes"},
		{name: "json string stays a string", answer: `"quoted"`, expected: "", want: `"quoted"`},
		{name: "raw json into int", answer: "41", expected: 0, want: 41},
		{name: "struct value", answer: Name{Value: "a"}, expected: Name{}, want: Name{Value: "a"}},
		{name: "wrong type", answer: true, expected: 0, wantErr: true},
		{name: "bad json", answer: []byte(`{`), expected: Name{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAnswer(tt.answer, ValueType(tt.expected), "")
			if tt.wantErr {
				assert.True(t, types.IsErrorCode(err, types.ErrSuspensionInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
