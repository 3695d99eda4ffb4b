package workflow

import (
	"reflect"

	"github.com/BaSui01/flowgraph/workflow/retry"
)

// LimitAction decides what happens when a step reaches its invocation limit.
type LimitAction string

const (
	// LimitError fails the run.
	LimitError LimitAction = "ERROR"
	// LimitStop completes the run with the last produced value.
	LimitStop LimitAction = "STOP"
	// LimitContinue skips the exhausted step and routes onward without it.
	LimitContinue LimitAction = "CONTINUE"
)

// StepNode is a compiled step. Nodes are immutable once the graph is built.
type StepNode struct {
	id               string
	description      string
	executor         StepExecutor
	initial          bool
	retryPolicy      *retry.Policy
	invocationLimit  int
	onLimit          LimitAction
	completionStepID string
}

// NodeOption configures a StepNode at build time.
type NodeOption func(*StepNode)

// NewStepNode creates a node around executor.
func NewStepNode(id string, executor StepExecutor, opts ...NodeOption) *StepNode {
	n := &StepNode{id: id, executor: executor}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AsInitial flags the node as an entry point.
func AsInitial() NodeOption {
	return func(n *StepNode) { n.initial = true }
}

// WithDescription sets a human readable description.
func WithDescription(desc string) NodeOption {
	return func(n *StepNode) { n.description = desc }
}

// WithRetry attaches a retry policy.
func WithRetry(p *retry.Policy) NodeOption {
	return func(n *StepNode) { n.retryPolicy = p }
}

// WithInvocationLimit bounds how often the step may run within one instance.
func WithInvocationLimit(limit int, action LimitAction) NodeOption {
	return func(n *StepNode) {
		n.invocationLimit = limit
		n.onLimit = action
	}
}

// WithCompletionStep names the step that receives this node's async result.
func WithCompletionStep(stepID string) NodeOption {
	return func(n *StepNode) { n.completionStepID = stepID }
}

func (n *StepNode) ID() string                 { return n.id }
func (n *StepNode) Description() string        { return n.description }
func (n *StepNode) Executor() StepExecutor     { return n.executor }
func (n *StepNode) IsInitial() bool            { return n.initial }
func (n *StepNode) RetryPolicy() *retry.Policy { return n.retryPolicy }
func (n *StepNode) InvocationLimit() int       { return n.invocationLimit }
func (n *StepNode) OnLimitAction() LimitAction { return n.onLimit }
func (n *StepNode) CompletionStepID() string   { return n.completionStepID }

// InputType returns the executor's declared input type.
func (n *StepNode) InputType() reflect.Type {
	if n.executor == nil {
		return nil
	}
	return n.executor.InputType()
}

// OutputType returns the executor's declared output type.
func (n *StepNode) OutputType() reflect.Type {
	if n.executor == nil {
		return nil
	}
	return n.executor.OutputType()
}

// CanAcceptInput reports whether a value of type t satisfies the node's input.
func (n *StepNode) CanAcceptInput(t reflect.Type) bool {
	return CanAccept(n.InputType(), t)
}
