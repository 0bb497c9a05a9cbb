package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowpilot/pkg/channels/gochannel"
	"github.com/dukex/flowpilot/pkg/channels/kafka"
	"github.com/dukex/flowpilot/pkg/eventbus"
)

var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// NewEventBus creates the run task bus. "gochannel" keeps everything in process and only works when the
// API and the worker share one binary or in tests.
func NewEventBus(provider string, logger *slog.Logger, serviceName string, brokers []string) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch provider {
	case "kafka":
		pub, sub, err = kafka.CreateChannel(watermillLogger, serviceName, brokers)
	case "gochannel":
		pub, sub, err = gochannel.CreateChannel(watermillLogger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(pub, sub, logger), nil
}
