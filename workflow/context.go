package workflow

import (
	"reflect"
	"sort"
)

// StepOutput is a value produced by a step together with its runtime type.
type StepOutput struct {
	StepID string
	Value  any
	Type   reflect.Type
	seq    int
}

// ContextReader is the read-only view of a run handed to steps and listeners.
type ContextReader interface {
	InstanceID() string
	Trigger() any
	Output(stepID string) (any, bool)
	OutputIDs() []string
}

// Context holds the mutable per-run state: step outputs, trigger data and the
// pending resumption input. It is owned by exactly one Instance.
type Context struct {
	instanceID    string
	trigger       any
	outputs       map[string]StepOutput
	seq           int
	userInput     any
	userInputType reflect.Type
	hasUserInput  bool
}

// NewContext creates an empty context for a run started by trigger.
func NewContext(instanceID string, trigger any) *Context {
	return &Context{
		instanceID: instanceID,
		trigger:    trigger,
		outputs:    make(map[string]StepOutput),
	}
}

func (c *Context) InstanceID() string { return c.instanceID }
func (c *Context) Trigger() any       { return c.trigger }

// Output returns the latest value produced by stepID.
func (c *Context) Output(stepID string) (any, bool) {
	o, ok := c.outputs[stepID]
	return o.Value, ok
}

// OutputIDs lists step ids with outputs, most recent first.
func (c *Context) OutputIDs() []string {
	outs := c.recentOutputs()
	ids := make([]string, len(outs))
	for i, o := range outs {
		ids[i] = o.StepID
	}
	return ids
}

// setOutput records value as the latest output of stepID.
func (c *Context) setOutput(stepID string, value any) StepOutput {
	c.seq++
	o := StepOutput{StepID: stepID, Value: value, Type: ValueType(value), seq: c.seq}
	c.outputs[stepID] = o
	return o
}

// recentOutputs returns every recorded output ordered most recent first.
func (c *Context) recentOutputs() []StepOutput {
	outs := make([]StepOutput, 0, len(c.outputs))
	for _, o := range c.outputs {
		outs = append(outs, o)
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].seq > outs[j].seq })
	return outs
}

// SetUserInput stores a resumption answer along with its declared type.
func (c *Context) SetUserInput(value any, declared reflect.Type) {
	c.userInput = value
	c.userInputType = declared
	c.hasUserInput = true
}

// UserInput returns the pending resumption answer, if any.
func (c *Context) UserInput() (any, reflect.Type, bool) {
	return c.userInput, c.userInputType, c.hasUserInput
}

func (c *Context) clearUserInput() {
	c.userInput = nil
	c.userInputType = nil
	c.hasUserInput = false
}

// Snapshot returns a detached copy safe to hand to other goroutines.
func (c *Context) Snapshot() *Snapshot {
	s := &Snapshot{
		instanceID: c.instanceID,
		trigger:    c.trigger,
		outputs:    make(map[string]any, len(c.outputs)),
	}
	for _, o := range c.recentOutputs() {
		s.outputs[o.StepID] = o.Value
		s.order = append(s.order, o.StepID)
	}
	return s
}

// Snapshot is an immutable copy of a Context.
type Snapshot struct {
	instanceID string
	trigger    any
	outputs    map[string]any
	order      []string
}

func (s *Snapshot) InstanceID() string { return s.instanceID }
func (s *Snapshot) Trigger() any       { return s.trigger }

func (s *Snapshot) Output(stepID string) (any, bool) {
	v, ok := s.outputs[stepID]
	return v, ok
}

func (s *Snapshot) OutputIDs() []string {
	return append([]string(nil), s.order...)
}
