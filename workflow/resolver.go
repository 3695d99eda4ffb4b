package workflow

import (
	"encoding/json"
	"errors"
	"reflect"

	"github.com/BaSui01/flowgraph/types"
	"go.uber.org/zap"
)

// ErrNoInput is the cause of INPUT_UNRESOLVED errors.
var ErrNoInput = errors.New("no compatible input")

// InputSource tells which priority tier satisfied a step's input.
type InputSource string

const (
	SourceUserInput InputSource = "user_input"
	SourceHistory   InputSource = "history"
	SourceOutputs   InputSource = "outputs"
	SourceTrigger   InputSource = "trigger"
)

// InputResolver finds the value a step consumes, in strict priority order:
// pending resumption input, most recent compatible history output (exact type
// before assignable), exhaustive output search, trigger data.
type InputResolver struct {
	logger *zap.Logger
}

// NewInputResolver creates a resolver.
func NewInputResolver(logger *zap.Logger) *InputResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InputResolver{logger: logger.With(zap.String("component", "input_resolver"))}
}

// Resolve returns the input for node. A resumption input that satisfies the
// node is consumed. No compatible value yields an INPUT_UNRESOLVED error.
func (r *InputResolver) Resolve(node *StepNode, inst *Instance) (any, InputSource, error) {
	expected := node.InputType()
	wctx := inst.Context

	if v, ok := r.fromUserInput(wctx, expected); ok {
		wctx.clearUserInput()
		return v, SourceUserInput, nil
	}

	if v, ok := r.fromHistory(node.ID(), inst.history, expected); ok {
		return v, SourceHistory, nil
	}

	if !IsObjectType(expected) {
		if v, ok := r.fromOutputs(wctx, expected); ok {
			return v, SourceOutputs, nil
		}
	}

	if v, ok := Coerce(wctx.Trigger(), expected); ok {
		return v, SourceTrigger, nil
	}

	r.logger.Debug("no input found",
		zap.String("step_id", node.ID()),
		zap.String("expected_type", TypeName(expected)),
	)
	return nil, "", types.Errorf(types.ErrInputUnresolved, "expected %s", TypeName(expected)).
		WithStep(node.ID()).WithCause(ErrNoInput)
}

func (r *InputResolver) fromUserInput(wctx *Context, expected reflect.Type) (any, bool) {
	value, declared, ok := wctx.UserInput()
	if !ok {
		return nil, false
	}
	var target reflect.Type
	if declared != nil && CanAccept(expected, declared) {
		target = declared
	}
	value = decodeRaw(value, target)
	return Coerce(value, expected)
}

// decodeRaw turns raw JSON payloads into target, or a generic value when target is nil.
func decodeRaw(value any, target reflect.Type) any {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return value
	}
	if IsObjectType(target) {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return value
		}
		return generic
	}
	p := reflect.New(target)
	if err := json.Unmarshal(raw, p.Interface()); err != nil {
		return value
	}
	return p.Elem().Interface()
}

func (r *InputResolver) fromHistory(stepID string, history []ExecutionRecord, expected reflect.Type) (any, bool) {
	candidate := func(rec ExecutionRecord) bool {
		return rec.StepID != stepID && !rec.RoutingMarker && rec.Output != nil && rec.Output.Value != nil
	}
	for k := len(history) - 1; k >= 0; k-- {
		if rec := history[k]; candidate(rec) && IsExactType(expected, rec.Output.Type) {
			return rec.Output.Value, true
		}
	}
	for k := len(history) - 1; k >= 0; k-- {
		if rec := history[k]; candidate(rec) && CanAccept(expected, rec.Output.Type) {
			return Coerce(rec.Output.Value, expected)
		}
	}
	return nil, false
}

func (r *InputResolver) fromOutputs(wctx *Context, expected reflect.Type) (any, bool) {
	outs := wctx.recentOutputs()
	for _, o := range outs {
		if o.Value != nil && IsExactType(expected, o.Type) {
			return o.Value, true
		}
	}
	for _, o := range outs {
		if o.Value != nil && CanAccept(expected, o.Type) {
			return Coerce(o.Value, expected)
		}
	}
	return nil, false
}
