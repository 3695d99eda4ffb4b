package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type Greeting struct {
	Text string `json:"text"`
}

type Shout struct {
	Text string `json:"text"`
}

type Foo struct {
	N int `json:"n"`
}

type Bar struct {
	N int `json:"n"`
}

type Name struct {
	Value string `json:"value"`
}

type Report struct {
	Pages int `json:"pages"`
}

type Animal interface {
	Sound() string
}

type Dog struct{}

func (Dog) Sound() string { return "woof" }

func identity[T any]() StepExecutor {
	return Map(func(_ context.Context, v T) (T, error) { return v, nil })
}

func finishWith[I any](fn func(I) any) StepExecutor {
	return NewStep[I, any](func(_ context.Context, in I, _ ContextReader) (StepResult, error) {
		return FinishWith(fn(in)), nil
	})
}

func upper() StepExecutor {
	return Map(func(_ context.Context, g Greeting) (Shout, error) {
		return Shout{Text: strings.ToUpper(g.Text)}, nil
	})
}

func mustBuild(t *testing.T, b *GraphBuilder) *Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func stepIDs(history []ExecutionRecord, outcome Outcome) []string {
	var ids []string
	for _, rec := range history {
		if rec.Outcome == outcome {
			ids = append(ids, rec.StepID)
		}
	}
	return ids
}
