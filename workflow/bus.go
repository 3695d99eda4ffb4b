package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// DefaultCompletionTopic carries async task completions.
const DefaultCompletionTopic = "flowgraph.async.completed"

const metadataInstanceID = "instance_id"

// AsyncCompletion is published when async work ends.
type AsyncCompletion struct {
	TaskID     string        `json:"task_id"`
	InstanceID string        `json:"instance_id"`
	StepID     string        `json:"step_id"`
	Result     *EncodedValue `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CompletionHandler consumes one completion.
type CompletionHandler func(ctx context.Context, c *AsyncCompletion) error

// CompletionBus transports async completions from workers back to the engine.
type CompletionBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewCompletionBus wraps any watermill publisher/subscriber pair.
func NewCompletionBus(pub message.Publisher, sub message.Subscriber, topic string, logger *zap.Logger) *CompletionBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = DefaultCompletionTopic
	}
	return &CompletionBus{
		publisher:  pub,
		subscriber: sub,
		topic:      topic,
		logger:     logger.With(zap.String("component", "completion_bus")),
	}
}

// NewInProcessBus builds a bus on a watermill GoChannel.
func NewInProcessBus(topic string, logger *zap.Logger) *CompletionBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		NewWatermillLogger(logger),
	)
	return NewCompletionBus(pubSub, pubSub, topic, logger)
}

// Topic returns the topic completions are published on.
func (b *CompletionBus) Topic() string { return b.topic }

// Publish sends c to subscribers.
func (b *CompletionBus) Publish(_ context.Context, c *AsyncCompletion) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal completion %s: %w", c.TaskID, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataInstanceID, c.InstanceID)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish completion %s: %w", c.TaskID, err)
	}
	return nil
}

// Subscribe delivers completions to handler until ctx ends or the bus closes.
// Each completion runs on its own goroutine so distinct instances proceed
// concurrently; the engine serializes per instance. Messages are acked on
// hand-off because subscribers withhold the next message until the ack.
// Handler errors are logged.
func (b *CompletionBus) Subscribe(ctx context.Context, handler CompletionHandler) error {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			var c AsyncCompletion
			if err := json.Unmarshal(msg.Payload, &c); err != nil {
				b.logger.Error("dropping malformed completion",
					zap.String("message_uuid", msg.UUID),
					zap.Error(err),
				)
				msg.Ack()
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				if err := handler(ctx, &c); err != nil {
					b.logger.Error("completion handler failed",
						zap.String("task_id", c.TaskID),
						zap.String("instance_id", c.InstanceID),
						zap.Error(err),
					)
				}
			}()
			msg.Ack()
		}
	}()
	return nil
}

// Close closes the publisher and subscriber and waits for the consumer loop
// and any in-flight handlers.
func (b *CompletionBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil {
			return err
		}
	}
	b.wg.Wait()
	return nil
}

// zapWatermillLogger bridges watermill logging onto zap.
type zapWatermillLogger struct {
	logger *zap.Logger
}

// NewWatermillLogger returns a watermill.LoggerAdapter writing to logger.
func NewWatermillLogger(logger *zap.Logger) watermill.LoggerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapWatermillLogger{logger: logger.With(zap.String("component", "watermill"))}
}

func (l *zapWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l *zapWatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *zapWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *zapWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *zapWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapWatermillLogger{logger: l.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
