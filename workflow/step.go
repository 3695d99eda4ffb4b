package workflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/BaSui01/flowgraph/types"
)

// StepExecutor is the capability behind a StepNode.
type StepExecutor interface {
	// Execute runs the step against input. wctx is a read-only view of the run.
	Execute(ctx context.Context, input any, wctx ContextReader) (StepResult, error)
	// InputType is the declared input type; nil or any accepts everything.
	InputType() reflect.Type
	// OutputType is the type Continue/Finish data is expected to carry.
	OutputType() reflect.Type
}

// StepFunc is a typed step body.
type StepFunc[I, O any] func(ctx context.Context, input I, wctx ContextReader) (StepResult, error)

type funcStep[I, O any] struct {
	fn StepFunc[I, O]
}

// NewStep wraps fn as a StepExecutor declaring input I and output O.
func NewStep[I, O any](fn StepFunc[I, O]) StepExecutor {
	return &funcStep[I, O]{fn: fn}
}

func (s *funcStep[I, O]) Execute(ctx context.Context, input any, wctx ContextReader) (StepResult, error) {
	in, err := castInput[I](input)
	if err != nil {
		return nil, err
	}
	return s.fn(ctx, in, wctx)
}

func (s *funcStep[I, O]) InputType() reflect.Type  { return TypeOf[I]() }
func (s *funcStep[I, O]) OutputType() reflect.Type { return TypeOf[O]() }

// Map wraps a plain transformation; its output continues the run.
func Map[I, O any](fn func(ctx context.Context, input I) (O, error)) StepExecutor {
	return NewStep[I, O](func(ctx context.Context, input I, _ ContextReader) (StepResult, error) {
		out, err := fn(ctx, input)
		if err != nil {
			return nil, err
		}
		return Continue{Data: out}, nil
	})
}

func castInput[I any](input any) (I, error) {
	var zero I
	expected := TypeOf[I]()
	if input == nil {
		if IsObjectType(expected) || expected.Kind() == reflect.Interface || expected.Kind() == reflect.Pointer {
			return zero, nil
		}
		return zero, types.Errorf(types.ErrInputUnresolved, "nil input for %s", TypeName(expected))
	}
	v, ok := Coerce(input, expected)
	if !ok {
		return zero, types.Errorf(types.ErrInputUnresolved, "input of type %s does not satisfy %s",
			TypeName(ValueType(input)), TypeName(expected))
	}
	typed, ok := v.(I)
	if !ok {
		return zero, fmt.Errorf("input conversion to %s failed", TypeName(expected))
	}
	return typed, nil
}
