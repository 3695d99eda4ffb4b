package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompletionBus_PublishSubscribe(t *testing.T) {
	t.Parallel()
	bus := NewInProcessBus("", zap.NewNop())
	assert.Equal(t, DefaultCompletionTopic, bus.Topic())

	received := make(chan *AsyncCompletion, 2)
	var calls atomic.Int32
	require.NoError(t, bus.Subscribe(context.Background(), func(_ context.Context, c *AsyncCompletion) error {
		received <- c
		if calls.Add(1) == 1 {
			return errors.New("handler failure is logged, not fatal")
		}
		return nil
	}))

	first := &AsyncCompletion{
		TaskID:     "task-1",
		InstanceID: "inst-1",
		StepID:     "render",
		Result:     &EncodedValue{Type: "int", Data: json.RawMessage(`3`)},
	}
	require.NoError(t, bus.Publish(context.Background(), first))
	require.NoError(t, bus.Publish(context.Background(), &AsyncCompletion{TaskID: "task-2", InstanceID: "inst-2", Error: "boom"}))

	got := make(map[string]*AsyncCompletion)
	for range 2 {
		select {
		case c := <-received:
			got[c.TaskID] = c
		case <-time.After(5 * time.Second):
			t.Fatal("completion not delivered")
		}
	}
	require.Contains(t, got, "task-1")
	require.Contains(t, got, "task-2")
	assert.Equal(t, "inst-1", got["task-1"].InstanceID)
	assert.Equal(t, "render", got["task-1"].StepID)
	require.NotNil(t, got["task-1"].Result)
	assert.JSONEq(t, `3`, string(got["task-1"].Result.Data))
	assert.Equal(t, "boom", got["task-2"].Error)
	assert.Nil(t, got["task-2"].Result)
	require.NoError(t, bus.Close())
}

func TestCompletionBus_DropsMalformedMessages(t *testing.T) {
	t.Parallel()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	bus := NewCompletionBus(pubSub, pubSub, "completions", nil)

	received := make(chan string, 1)
	require.NoError(t, bus.Subscribe(context.Background(), func(_ context.Context, c *AsyncCompletion) error {
		received <- c.TaskID
		return nil
	}))

	require.NoError(t, pubSub.Publish("completions", message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	require.NoError(t, bus.Publish(context.Background(), &AsyncCompletion{TaskID: "task-ok"}))

	select {
	case id := <-received:
		assert.Equal(t, "task-ok", id)
	case <-time.After(5 * time.Second):
		t.Fatal("valid completion not delivered after malformed one")
	}
	require.NoError(t, bus.Close())
}

func TestCompletionBus_SlowHandlerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	bus := NewInProcessBus("", zap.NewNop())

	release := make(chan struct{})
	done := make(chan string, 2)
	require.NoError(t, bus.Subscribe(context.Background(), func(_ context.Context, c *AsyncCompletion) error {
		if c.InstanceID == "slow" {
			<-release
		}
		done <- c.InstanceID
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), &AsyncCompletion{TaskID: "task-1", InstanceID: "slow"}))
	require.NoError(t, bus.Publish(context.Background(), &AsyncCompletion{TaskID: "task-2", InstanceID: "fast"}))

	select {
	case id := <-done:
		assert.Equal(t, "fast", id)
	case <-time.After(5 * time.Second):
		t.Fatal("fast completion blocked behind slow handler")
	}

	close(release)
	select {
	case id := <-done:
		assert.Equal(t, "slow", id)
	case <-time.After(5 * time.Second):
		t.Fatal("slow completion never finished")
	}
	require.NoError(t, bus.Close())
}

func TestWatermillLogger(t *testing.T) {
	t.Parallel()
	l := NewWatermillLogger(zap.NewNop()).With(watermill.LogFields{"topic": "x"})
	l.Info("info", watermill.LogFields{"n": 1})
	l.Debug("debug", nil)
	l.Trace("trace", nil)
	l.Error("error", errors.New("boom"), nil)
}
