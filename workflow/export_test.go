package workflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/BaSui01/flowgraph/workflow/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func exportFixture(t *testing.T) *Graph {
	t.Helper()
	return mustBuild(t, NewGraphBuilder("review").WithVersion("1.2").
		AddStep("draft", upper()).Initial().Describe("write a draft").Retry(&retry.Policy{MaxAttempts: 3}).Done().
		AddStep("publish", identity[Shout]()).Limit(2, LimitStop).Done().
		Step("recover", finishWith(func(err error) any { return err.Error() })).
		Then("draft", "publish").
		OnError("draft", "recover").
		AddEdge(BranchOnType[Shout]("publish", "publish")))
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	d := exportFixture(t).Describe()

	assert.Equal(t, "review", d.ID)
	assert.Equal(t, "1.2", d.Version)
	assert.Equal(t, "draft", d.InitialStepID)
	assert.True(t, d.HasCycles)
	assert.Empty(t, d.Topological)
	require.Len(t, d.Nodes, 3)

	draft := d.Nodes[0]
	assert.True(t, draft.Initial)
	assert.Equal(t, "write a draft", draft.Description)
	assert.Equal(t, 3, draft.MaxAttempts)
	assert.Equal(t, TypeName(TypeOf[Greeting]()), draft.InputType)
	assert.Equal(t, TypeName(TypeOf[Shout]()), draft.OutputType)

	publish := d.Nodes[1]
	assert.Equal(t, 2, publish.InvocationLimit)
	assert.Equal(t, string(LimitStop), publish.OnLimit)

	require.Len(t, d.Edges, 3)
	assert.Equal(t, EdgeSequential, d.Edges[0].Type)
	assert.Equal(t, EdgeError, d.Edges[1].Type)
	assert.Equal(t, EdgeBranch, d.Edges[2].Type)
	assert.Equal(t, TypeName(TypeOf[Shout]()), d.Edges[2].EventType)
}

func TestDescribe_AcyclicGraphHasOrder(t *testing.T) {
	t.Parallel()
	g := mustBuild(t, NewGraphBuilder("line").
		Step("a", upper(), AsInitial()).
		Step("b", identity[Shout]()).
		Step("orphan", identity[int]()).
		Then("a", "b"))
	d := g.Describe()
	assert.False(t, d.HasCycles)
	assert.Equal(t, []string{"a", "orphan", "b"}, d.Topological)
	assert.Equal(t, []string{"orphan"}, d.Unreachable)
}

func TestDescriptor_Serialization(t *testing.T) {
	t.Parallel()
	d := exportFixture(t).Describe()

	js, err := d.ToJSON()
	require.NoError(t, err)
	var fromJSON GraphDescriptor
	require.NoError(t, json.Unmarshal([]byte(js), &fromJSON))
	assert.Equal(t, *d, fromJSON)

	ys, err := d.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, ys, "initial_step_id: draft")
	var fromYAML GraphDescriptor
	require.NoError(t, yaml.Unmarshal([]byte(ys), &fromYAML))
	assert.Equal(t, d.Nodes, fromYAML.Nodes)
	assert.Equal(t, d.Edges, fromYAML.Edges)
}

func TestDescriptor_ToMermaid(t *testing.T) {
	t.Parallel()
	out := exportFixture(t).Describe().ToMermaid()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "flowchart TD", lines[0])
	assert.Contains(t, out, `draft(["draft: write a draft"])`)
	assert.Contains(t, out, `publish["publish"]`)
	assert.Contains(t, out, `draft -->|"SEQUENTIAL"| publish`)
	assert.Contains(t, out, `draft -.->|"ERROR"| recover`)
	assert.Contains(t, out, `publish -->|"`+TypeName(TypeOf[Shout]())+`"| publish`)
}
