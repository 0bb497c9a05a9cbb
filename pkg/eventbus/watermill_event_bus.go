package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/dukex/flowpilot/pkg/events"
)

// RetryConfig bounds handler redelivery. Attempts are spaced by a fixed delay.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryConfig is used when NewWatermillEventBus gets no retry config.
var DefaultRetryConfig = RetryConfig{MaxRetries: 3, Delay: time.Second}

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
	retry         middleware.Retry
	logger        *slog.Logger
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger, retry ...RetryConfig) *WatermillEventBus {
	cfg := DefaultRetryConfig
	if len(retry) > 0 {
		cfg = retry[0]
	}

	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
		retry: middleware.Retry{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.Delay,
			MaxInterval:     cfg.Delay,
			Multiplier:      1,
			Logger:          watermill.NewSlogLogger(logger),
		},
		logger: logger.With("module", "eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts consuming in the background until ctx is done. Handler errors are retried; a message
// whose retries are exhausted is acked and logged so one poisoned run cannot stall the topic.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	handle := eb.retry.Middleware(func(msg *message.Message) ([]*message.Message, error) {
		return nil, eb.dispatch(ctx, msg)
	})

	go func() {
		for msg := range messages {
			_, err := handle(msg)
			if err != nil {
				eb.logger.ErrorContext(ctx, "dropping event after retries",
					"event_type", msg.Metadata.Get(events.EventTypeMetadataKey),
					"key", msg.Metadata.Get(events.EventMetadataKey),
					"error", err)
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) error {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	handler, exists := eb.subscriptions[eventType]
	if !exists {
		return nil
	}

	event, ok := events.Decode(eventType)
	if !ok {
		eb.logger.WarnContext(ctx, "ignoring unknown event type", "event_type", eventType)

		return nil
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		eb.logger.WarnContext(ctx, "ignoring malformed event", "event_type", eventType, "error", err)

		return nil
	}

	return handler(ctx, event)
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
