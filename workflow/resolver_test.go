package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/BaSui01/flowgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func resolverFixture(t *testing.T, trigger any) (*Graph, *Instance) {
	t.Helper()
	g := mustBuild(t, NewGraphBuilder("wf").
		Step("a", identity[string](), AsInitial()).
		Step("b", identity[string]()).
		Step("foo", identity[Foo]()).
		Step("number", identity[int]()).
		Step("anything", identity[any]()))
	return g, NewInstance("inst-1", g, trigger)
}

func mustNode(t *testing.T, g *Graph, id string) *StepNode {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok)
	return n
}

func TestInputResolver_UserInputBeatsHistory(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("a", OutcomeContinue, "from history", false, 1, 0)
	inst.Context.SetUserInput("answer", TypeOf[string]())

	r := NewInputResolver(nil)
	v, src, err := r.Resolve(mustNode(t, g, "b"), inst)
	require.NoError(t, err)
	assert.Equal(t, "answer", v)
	assert.Equal(t, SourceUserInput, src)

	// the resumption input is consumed once
	_, _, ok := inst.Context.UserInput()
	assert.False(t, ok)
	v, src, err = r.Resolve(mustNode(t, g, "b"), inst)
	require.NoError(t, err)
	assert.Equal(t, "from history", v)
	assert.Equal(t, SourceHistory, src)
}

func TestInputResolver_IncompatibleUserInputIsKept(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.Context.SetUserInput(Foo{N: 1}, TypeOf[Foo]())

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "b"), inst)
	require.NoError(t, err)
	assert.Equal(t, "trigger", v)
	assert.Equal(t, SourceTrigger, src)

	_, _, ok := inst.Context.UserInput()
	assert.True(t, ok)
}

func TestInputResolver_RawUserInputDecodesIntoDeclaredType(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.Context.SetUserInput(json.RawMessage(`{"n":5}`), TypeOf[Foo]())

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "foo"), inst)
	require.NoError(t, err)
	assert.Equal(t, Foo{N: 5}, v)
	assert.Equal(t, SourceUserInput, src)
}

func TestInputResolver_ExactTypeBeforeAssignable(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("a", OutcomeContinue, Foo{N: 1}, false, 1, 0)
	inst.recordOutput("b", OutcomeContinue, &Foo{N: 2}, false, 1, 0)

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "foo"), inst)
	require.NoError(t, err)
	assert.Equal(t, Foo{N: 1}, v)
	assert.Equal(t, SourceHistory, src)
}

func TestInputResolver_AssignableWhenNoExactMatch(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("a", OutcomeContinue, &Foo{N: 2}, false, 1, 0)

	v, _, err := NewInputResolver(nil).Resolve(mustNode(t, g, "foo"), inst)
	require.NoError(t, err)
	assert.Equal(t, Foo{N: 2}, v)
}

func TestInputResolver_MostRecentHistoryWins(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("a", OutcomeContinue, "older", false, 1, 0)
	inst.recordOutput("number", OutcomeContinue, 3, false, 1, 0)
	inst.recordOutput("foo", OutcomeContinue, "newer", false, 1, 0)

	v, _, err := NewInputResolver(nil).Resolve(mustNode(t, g, "b"), inst)
	require.NoError(t, err)
	assert.Equal(t, "newer", v)
}

func TestInputResolver_SkipsOwnOutputAndMarkers(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("a", OutcomeContinue, "data", false, 1, 0)
	inst.recordOutput("foo", OutcomeAsync, "task-123", true, 1, 0)
	inst.recordOutput("b", OutcomeContinue, "own", false, 1, 0)

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "b"), inst)
	require.NoError(t, err)
	assert.Equal(t, "data", v)
	assert.Equal(t, SourceHistory, src)
}

func TestInputResolver_OutputsIncludeOwnValue(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("number", OutcomeContinue, 41, false, 1, 0)

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "number"), inst)
	require.NoError(t, err)
	assert.Equal(t, 41, v)
	assert.Equal(t, SourceOutputs, src)
}

func TestInputResolver_ObjectTypeTakesLatestValue(t *testing.T) {
	g, inst := resolverFixture(t, "trigger")
	inst.recordOutput("a", OutcomeContinue, Foo{N: 9}, false, 1, 0)

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "anything"), inst)
	require.NoError(t, err)
	assert.Equal(t, Foo{N: 9}, v)
	assert.Equal(t, SourceHistory, src)
}

func TestInputResolver_TriggerFallback(t *testing.T) {
	g, inst := resolverFixture(t, "hello")

	v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "a"), inst)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, SourceTrigger, src)
}

func TestInputResolver_Unresolved(t *testing.T) {
	g, inst := resolverFixture(t, "hello")

	_, _, err := NewInputResolver(nil).Resolve(mustNode(t, g, "number"), inst)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInputUnresolved))
	assert.True(t, errors.Is(err, ErrNoInput))
	assert.Contains(t, err.Error(), "number")
	assert.Contains(t, err.Error(), "int")
}

// A pending resumption value always wins over any history value.
func TestProperty_InputPriority(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g, inst := resolverFixture(t, rapid.String().Draw(rt, "trigger"))
		history := rapid.SliceOfN(rapid.String(), 0, 8).Draw(rt, "history")
		for _, h := range history {
			inst.recordOutput("a", OutcomeContinue, h, false, 1, 0)
		}
		answer := rapid.String().Draw(rt, "answer")
		inst.Context.SetUserInput(answer, TypeOf[string]())

		v, src, err := NewInputResolver(nil).Resolve(mustNode(t, g, "b"), inst)
		if err != nil {
			rt.Fatalf("resolve failed: %v", err)
		}
		if v != answer || src != SourceUserInput {
			rt.Fatalf("got %q from %s, want resumption value %q", v, src, answer)
		}
	})
}
