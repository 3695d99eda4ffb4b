package workflow

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/BaSui01/flowgraph/types"
	"go.uber.org/zap"
)

// ErrGraphHasCycle is returned by TopologicalSort for cyclic graphs.
var ErrGraphHasCycle = errors.New("graph contains a cycle")

// GraphDefinition is the raw input to NewGraph.
type GraphDefinition struct {
	ID            string
	Version       string
	InputType     reflect.Type
	OutputType    reflect.Type
	Nodes         []*StepNode
	Edges         []Edge
	InitialStepID string
}

// Graph is the compiled, immutable representation of a workflow.
type Graph struct {
	id            string
	version       string
	inputType     reflect.Type
	outputType    reflect.Type
	nodes         map[string]*StepNode
	order         []string
	edges         map[string][]Edge
	initialStepID string
	initialIDs    []string
	unreachable   []string
}

// NewGraph validates def and compiles it. Construction either fully succeeds or returns an error.
func NewGraph(def GraphDefinition, logger *zap.Logger) (*Graph, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "graph"), zap.String("workflow_id", def.ID))

	if len(def.Nodes) == 0 {
		return nil, graphError(def.ID, "graph has no nodes")
	}

	g := &Graph{
		id:         def.ID,
		version:    def.Version,
		inputType:  def.InputType,
		outputType: def.OutputType,
		nodes:      make(map[string]*StepNode, len(def.Nodes)),
		order:      make([]string, 0, len(def.Nodes)),
		edges:      make(map[string][]Edge),
	}

	for _, n := range def.Nodes {
		if n == nil || n.id == "" {
			return nil, graphError(def.ID, "node with empty id")
		}
		if n.executor == nil {
			return nil, graphError(def.ID, fmt.Sprintf("node %s has no executor", n.id))
		}
		if _, dup := g.nodes[n.id]; dup {
			return nil, graphError(def.ID, fmt.Sprintf("duplicate node id %s", n.id))
		}
		g.nodes[n.id] = n
		g.order = append(g.order, n.id)
	}

	if err := g.resolveInitial(def.InitialStepID); err != nil {
		return nil, err
	}

	for _, e := range def.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, graphError(def.ID, fmt.Sprintf("edge %s references unknown source node %s", e, e.From))
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, graphError(def.ID, fmt.Sprintf("edge %s references unknown target node %s", e, e.To))
		}
		if e.Type == "" {
			e.Type = EdgeSequential
		}
		g.edges[e.From] = append(g.edges[e.From], e)
	}

	for _, n := range def.Nodes {
		if n.completionStepID == "" {
			continue
		}
		if _, ok := g.nodes[n.completionStepID]; !ok {
			return nil, graphError(def.ID, fmt.Sprintf("node %s declares unknown completion step %s", n.id, n.completionStepID))
		}
	}

	g.warnTypeMismatches(logger)

	reachable := g.reachableFrom(g.initialIDs)
	for _, id := range g.order {
		if !reachable[id] {
			g.unreachable = append(g.unreachable, id)
		}
	}
	if len(g.unreachable) > 0 {
		logger.Warn("graph has nodes unreachable through edges",
			zap.Strings("nodes", g.unreachable),
		)
	}

	logger.Debug("graph compiled",
		zap.Int("nodes", len(g.nodes)),
		zap.String("initial_step", g.initialStepID),
	)
	return g, nil
}

// warnTypeMismatches logs SEQUENTIAL and BRANCH edges whose target cannot take
// what the source emits. The router falls back on other candidates and the
// target may still resolve its input from history, so this is not fatal.
func (g *Graph) warnTypeMismatches(logger *zap.Logger) {
	for _, from := range g.order {
		for _, e := range g.edges[from] {
			var emitted reflect.Type
			switch e.Type {
			case EdgeSequential:
				emitted = g.nodes[e.From].OutputType()
			case EdgeBranch:
				emitted = e.EventType
			default:
				continue
			}
			if IsObjectType(emitted) {
				continue
			}
			target := g.nodes[e.To]
			if target.CanAcceptInput(emitted) {
				continue
			}
			logger.Warn("edge target does not accept source type",
				zap.String("edge", e.String()),
				zap.String("emitted_type", TypeName(emitted)),
				zap.String("target_input_type", TypeName(target.InputType())),
			)
		}
	}
}

func graphError(workflowID, msg string) error {
	return types.Errorf(types.ErrGraphInvalid, "workflow %s: %s", workflowID, msg)
}

// resolveInitial picks the explicit id, else the flagged nodes in declaration order.
func (g *Graph) resolveInitial(explicit string) error {
	if explicit != "" {
		if _, ok := g.nodes[explicit]; !ok {
			return graphError(g.id, fmt.Sprintf("initial step %s not found", explicit))
		}
		g.initialStepID = explicit
		g.initialIDs = append(g.initialIDs, explicit)
	}
	for _, id := range g.order {
		if g.nodes[id].initial && id != explicit {
			g.initialIDs = append(g.initialIDs, id)
		}
	}
	if g.initialStepID == "" {
		if len(g.initialIDs) == 0 {
			return graphError(g.id, "no initial step: declare one explicitly or flag a node as initial")
		}
		g.initialStepID = g.initialIDs[0]
	}
	return nil
}

// reachableFrom runs a breadth-first traversal over every edge type.
func (g *Graph) reachableFrom(starts []string) map[string]bool {
	seen := make(map[string]bool, len(g.nodes))
	queue := make([]string, 0, len(g.nodes))
	for _, s := range starts {
		if !seen[s] {
			seen[s] = true
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.edges[cur] {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

func (g *Graph) ID() string               { return g.id }
func (g *Graph) Version() string          { return g.version }
func (g *Graph) InputType() reflect.Type  { return g.inputType }
func (g *Graph) OutputType() reflect.Type { return g.outputType }
func (g *Graph) InitialStepID() string    { return g.initialStepID }

// InitialStepIDs returns every entry point, the primary one first.
func (g *Graph) InitialStepIDs() []string {
	return append([]string(nil), g.initialIDs...)
}

// IsInitial reports whether id is an entry point.
func (g *Graph) IsInitial(id string) bool {
	for _, s := range g.initialIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Node returns the node with id.
func (g *Graph) Node(id string) (*StepNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*StepNode {
	out := make([]*StepNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the outgoing edges of id in declaration order.
func (g *Graph) Edges(id string) []Edge {
	return append([]Edge(nil), g.edges[id]...)
}

// UnreachableNodes lists nodes no edge path reaches from an initial node.
func (g *Graph) UnreachableNodes() []string {
	return append([]string(nil), g.unreachable...)
}

// EntryFor returns the initial node accepting trigger, falling back to the primary entry.
func (g *Graph) EntryFor(trigger any) *StepNode {
	t := ValueType(trigger)
	for _, id := range g.initialIDs {
		if g.nodes[id].CanAcceptInput(t) {
			return g.nodes[id]
		}
	}
	return g.nodes[g.initialStepID]
}

// Types lists every type declared by nodes and branch edges.
func (g *Graph) Types() []reflect.Type {
	var out []reflect.Type
	add := func(t reflect.Type) {
		if t != nil && !IsObjectType(t) {
			out = append(out, t)
		}
	}
	add(g.inputType)
	add(g.outputType)
	for _, id := range g.order {
		add(g.nodes[id].InputType())
		add(g.nodes[id].OutputType())
		for _, e := range g.edges[id] {
			add(e.EventType)
		}
	}
	return out
}

// HasCycles reports whether the edge set contains a cycle. Diagnostic only:
// execution tolerates revisiting nodes.
func (g *Graph) HasCycles() bool {
	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	for _, id := range g.order {
		if !visited[id] && g.hasCycleDFS(id, visited, onStack) {
			return true
		}
	}
	return false
}

func (g *Graph) hasCycleDFS(id string, visited, onStack map[string]bool) bool {
	visited[id] = true
	onStack[id] = true
	for _, e := range g.edges[id] {
		if !visited[e.To] {
			if g.hasCycleDFS(e.To, visited, onStack) {
				return true
			}
		} else if onStack[e.To] {
			return true
		}
	}
	onStack[id] = false
	return false
}

// TopologicalSort orders nodes with Kahn's algorithm, ties broken by declaration order.
// It returns ErrGraphHasCycle when no complete ordering exists.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] += 0
		for _, e := range g.edges[id] {
			inDegree[e.To]++
		}
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		sorted = append(sorted, cur)
		for _, e := range g.edges[cur] {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		return sorted, ErrGraphHasCycle
	}
	return sorted, nil
}
