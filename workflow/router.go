package workflow

import (
	"reflect"

	"github.com/BaSui01/flowgraph/types"
	"go.uber.org/zap"
)

// Router decides which node runs next. It is stateless and deterministic:
// the same graph, step and value always yield the same target.
type Router struct {
	logger *zap.Logger
}

// NewRouter creates a router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger.With(zap.String("component", "router"))}
}

// nodeFilter excludes candidates from routing; nil admits every node.
type nodeFilter func(n *StepNode) bool

func (f nodeFilter) admits(n *StepNode) bool {
	return f == nil || f(n)
}

// FindNextStep picks the successor of currentID for data. A panicking edge
// condition yields a STEP_FAILED error attributed to currentID.
func (r *Router) FindNextStep(g *Graph, currentID string, data any) (*StepNode, bool, error) {
	return r.findNextStep(g, currentID, data, nil)
}

// FindBranchTarget picks the successor of currentID for a Branch event.
func (r *Router) FindBranchTarget(g *Graph, currentID string, event any) (*StepNode, bool) {
	return r.findBranchTarget(g, currentID, event, nil)
}

// FindErrorTarget returns the first ERROR edge target of currentID.
func (r *Router) FindErrorTarget(g *Graph, currentID string) (*StepNode, bool) {
	return r.findErrorTarget(g, currentID, nil)
}

func (r *Router) findNextStep(g *Graph, currentID string, data any, admit nodeFilter) (*StepNode, bool, error) {
	t := ValueType(data)
	edges := g.edges[currentID]

	if len(edges) == 0 {
		next, ok := r.typeDirectedSearch(g, currentID, t, admit)
		return next, ok, nil
	}

	for _, e := range edges {
		if e.Type != EdgeConditional || e.Condition == nil {
			continue
		}
		target := g.nodes[e.To]
		if !admit.admits(target) {
			continue
		}
		matched, err := evalCondition(e, data)
		if err != nil {
			r.logger.Error("edge condition panicked",
				zap.String("from", currentID),
				zap.String("to", e.To),
				zap.String("condition", e.Description),
				zap.Error(err),
			)
			return nil, false, err
		}
		if matched {
			r.logger.Debug("conditional edge matched",
				zap.String("from", currentID),
				zap.String("to", e.To),
				zap.String("condition", e.Description),
			)
			return target, true, nil
		}
	}

	for _, e := range edges {
		if e.Type != EdgeSequential && e.Type != EdgeBranch {
			continue
		}
		if target := g.nodes[e.To]; admit.admits(target) && target.CanAcceptInput(t) {
			return target, true, nil
		}
	}

	if target, ok := r.typeDirectedSearch(g, currentID, t, admit); ok {
		return target, true, nil
	}

	var sequential []*StepNode
	for _, e := range edges {
		if e.Type == EdgeSequential && admit.admits(g.nodes[e.To]) {
			sequential = append(sequential, g.nodes[e.To])
		}
	}
	switch len(sequential) {
	case 0:
		return nil, false, nil
	case 1:
		return sequential[0], true, nil
	}
	for _, target := range sequential {
		if target.CanAcceptInput(t) {
			return target, true, nil
		}
	}
	r.logger.Warn("ambiguous sequential edges, taking the first",
		zap.String("from", currentID),
		zap.String("to", sequential[0].id),
		zap.Int("candidates", len(sequential)),
	)
	return sequential[0], true, nil
}

func (r *Router) findBranchTarget(g *Graph, currentID string, event any, admit nodeFilter) (*StepNode, bool) {
	t := ValueType(event)
	for _, e := range g.edges[currentID] {
		if !e.AcceptsEvent(t) {
			continue
		}
		if target := g.nodes[e.To]; admit.admits(target) {
			return target, true
		}
	}
	r.logger.Debug("no branch edge matched, falling back to type search",
		zap.String("from", currentID),
		zap.String("event_type", TypeName(t)),
	)
	return r.typeDirectedSearch(g, currentID, t, admit)
}

func (r *Router) findErrorTarget(g *Graph, currentID string, admit nodeFilter) (*StepNode, bool) {
	for _, e := range g.edges[currentID] {
		if e.Type != EdgeError {
			continue
		}
		if target := g.nodes[e.To]; admit.admits(target) {
			return target, true
		}
	}
	return nil, false
}

// typeDirectedSearch scans non-initial nodes in declaration order for one accepting t.
// The current node is the last resort, which enables repeat-this-step loops.
func (r *Router) typeDirectedSearch(g *Graph, currentID string, t reflect.Type, admit nodeFilter) (*StepNode, bool) {
	for _, id := range g.order {
		if id == currentID || g.IsInitial(id) {
			continue
		}
		n := g.nodes[id]
		if admit.admits(n) && n.CanAcceptInput(t) {
			r.logger.Debug("type-directed match",
				zap.String("from", currentID),
				zap.String("to", id),
				zap.String("type", TypeName(t)),
			)
			return n, true
		}
	}
	if cur, ok := g.nodes[currentID]; ok && admit.admits(cur) && cur.CanAcceptInput(t) {
		r.logger.Debug("type-directed match on current step",
			zap.String("step", currentID),
			zap.String("type", TypeName(t)),
		)
		return cur, true
	}
	return nil, false
}

// evalCondition runs a user predicate, turning a panic into a step failure.
func evalCondition(e Edge, data any) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = types.Errorf(types.ErrStepFailed, "condition %q panicked: %v", e.Description, r).WithStep(e.From)
		}
	}()
	return e.Condition(data), nil
}
