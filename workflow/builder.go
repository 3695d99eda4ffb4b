package workflow

import (
	"fmt"
	"reflect"

	"github.com/BaSui01/flowgraph/workflow/retry"
	"go.uber.org/zap"
)

// GraphBuilder registers steps under explicit ids and compiles them into a Graph.
type GraphBuilder struct {
	def    GraphDefinition
	errs   []error
	logger *zap.Logger
}

// NewGraphBuilder creates a builder for the workflow id.
func NewGraphBuilder(id string) *GraphBuilder {
	return &GraphBuilder{
		def:    GraphDefinition{ID: id},
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithVersion sets the workflow version
func (b *GraphBuilder) WithVersion(version string) *GraphBuilder {
	b.def.Version = version
	return b
}

// WithTypes declares the workflow's overall input and output types
func (b *GraphBuilder) WithTypes(input, output reflect.Type) *GraphBuilder {
	b.def.InputType = input
	b.def.OutputType = output
	return b
}

// AddStep registers a step and returns a StepBuilder for further configuration
func (b *GraphBuilder) AddStep(id string, executor StepExecutor) *StepBuilder {
	if id == "" {
		b.errs = append(b.errs, fmt.Errorf("step id must not be empty"))
	}
	node := &StepNode{id: id, executor: executor}
	b.def.Nodes = append(b.def.Nodes, node)
	return &StepBuilder{node: node, parent: b}
}

// Step registers a step configured through options
func (b *GraphBuilder) Step(id string, executor StepExecutor, opts ...NodeOption) *GraphBuilder {
	sb := b.AddStep(id, executor)
	for _, opt := range opts {
		opt(sb.node)
	}
	n := sb.node
	if n.retryPolicy != nil {
		if err := n.retryPolicy.Validate(); err != nil {
			b.errs = append(b.errs, fmt.Errorf("step %s: %w", id, err))
		}
	}
	if (n.invocationLimit != 0 || n.onLimit != "") && !knownLimitAction(n.onLimit) {
		b.errs = append(b.errs, fmt.Errorf("step %s: unknown limit action %q", id, n.onLimit))
	}
	return b
}

// AddEdge adds a typed edge
func (b *GraphBuilder) AddEdge(e Edge) *GraphBuilder {
	b.def.Edges = append(b.def.Edges, e)
	return b
}

// Then adds a SEQUENTIAL edge
func (b *GraphBuilder) Then(from, to string) *GraphBuilder {
	return b.AddEdge(Sequential(from, to))
}

// When adds a CONDITIONAL edge
func (b *GraphBuilder) When(from, to string, cond func(any) bool, desc string) *GraphBuilder {
	return b.AddEdge(Conditional(from, to, cond, desc))
}

// OnBranch adds a BRANCH edge for events assignable to eventType
func (b *GraphBuilder) OnBranch(from, to string, eventType reflect.Type) *GraphBuilder {
	return b.AddEdge(BranchEdge(from, to, eventType))
}

// OnError adds an ERROR edge
func (b *GraphBuilder) OnError(from, to string) *GraphBuilder {
	return b.AddEdge(ErrorEdge(from, to))
}

// SetInitial names the primary entry step explicitly
func (b *GraphBuilder) SetInitial(id string) *GraphBuilder {
	b.def.InitialStepID = id
	return b
}

// Build validates and compiles the graph
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, graphError(b.def.ID, b.errs[0].Error())
	}
	g, err := NewGraph(b.def, b.logger)
	if err != nil {
		return nil, err
	}
	b.logger.Info("workflow graph built successfully",
		zap.String("workflow_id", g.ID()),
		zap.String("version", g.Version()),
		zap.Int("nodes", len(g.order)),
		zap.Bool("has_cycles", g.HasCycles()),
	)
	return g, nil
}

// StepBuilder configures one registered step
type StepBuilder struct {
	node   *StepNode
	parent *GraphBuilder
}

// Describe sets the step description
func (sb *StepBuilder) Describe(desc string) *StepBuilder {
	sb.node.description = desc
	return sb
}

// Initial flags the step as an entry point
func (sb *StepBuilder) Initial() *StepBuilder {
	sb.node.initial = true
	return sb
}

// Retry attaches a retry policy
func (sb *StepBuilder) Retry(p *retry.Policy) *StepBuilder {
	if err := p.Validate(); err != nil {
		sb.parent.errs = append(sb.parent.errs, fmt.Errorf("step %s: %w", sb.node.id, err))
	}
	sb.node.retryPolicy = p
	return sb
}

// Limit bounds the number of invocations per run
func (sb *StepBuilder) Limit(n int, action LimitAction) *StepBuilder {
	if !knownLimitAction(action) {
		sb.parent.errs = append(sb.parent.errs, fmt.Errorf("step %s: unknown limit action %q", sb.node.id, action))
	}
	sb.node.invocationLimit = n
	sb.node.onLimit = action
	return sb
}

// CompleteWith names the step receiving this step's async result
func (sb *StepBuilder) CompleteWith(stepID string) *StepBuilder {
	sb.node.completionStepID = stepID
	return sb
}

// Done returns to the parent builder
func (sb *StepBuilder) Done() *GraphBuilder {
	return sb.parent
}

func knownLimitAction(a LimitAction) bool {
	switch a {
	case LimitError, LimitStop, LimitContinue:
		return true
	}
	return false
}
