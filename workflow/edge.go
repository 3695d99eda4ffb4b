package workflow

import (
	"fmt"
	"reflect"
)

// EdgeType classifies a transition between two steps.
type EdgeType string

const (
	EdgeSequential  EdgeType = "SEQUENTIAL"
	EdgeBranch      EdgeType = "BRANCH"
	EdgeConditional EdgeType = "CONDITIONAL"
	EdgeError       EdgeType = "ERROR"
	// EdgeParallel documents fan-out for diagnostics; the router never follows it.
	EdgeParallel EdgeType = "PARALLEL"
)

// Edge is an immutable typed transition.
type Edge struct {
	From        string
	To          string
	Type        EdgeType
	EventType   reflect.Type
	Condition   func(data any) bool
	Description string
}

// Sequential creates a SEQUENTIAL edge.
func Sequential(from, to string) Edge {
	return Edge{From: from, To: to, Type: EdgeSequential}
}

// BranchEdge creates a BRANCH edge taken for events assignable to eventType.
func BranchEdge(from, to string, eventType reflect.Type) Edge {
	return Edge{From: from, To: to, Type: EdgeBranch, EventType: eventType}
}

// BranchOnType creates a BRANCH edge keyed on E.
func BranchOnType[E any](from, to string) Edge {
	return BranchEdge(from, to, TypeOf[E]())
}

// Conditional creates a CONDITIONAL edge guarded by cond.
func Conditional(from, to string, cond func(data any) bool, desc string) Edge {
	return Edge{From: from, To: to, Type: EdgeConditional, Condition: cond, Description: desc}
}

// ErrorEdge creates an ERROR edge followed when the step fails.
func ErrorEdge(from, to string) Edge {
	return Edge{From: from, To: to, Type: EdgeError}
}

// Parallel creates a PARALLEL edge.
func Parallel(from, to string) Edge {
	return Edge{From: from, To: to, Type: EdgeParallel}
}

// AcceptsEvent reports whether a BRANCH edge matches an event of type t.
func (e Edge) AcceptsEvent(t reflect.Type) bool {
	if e.Type != EdgeBranch || e.EventType == nil || t == nil {
		return false
	}
	return CanAccept(e.EventType, t)
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.From, e.Type, e.To)
}
