// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ogabrielsv/creatye/pkg/channels/gochannel"
	"github.com/ogabrielsv/creatye/pkg/channels/kafka"
	"github.com/ogabrielsv/creatye/pkg/eventbus"
)

// NewEventBus creates the event bus for the given provider. "gochannel" keeps events in process
// and only suits single-binary deployments and local development.
func NewEventBus(provider string, brokers []string, serviceName string, logger *slog.Logger) eventbus.EventBus {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.New(kafka.Config{Brokers: brokers, ServiceName: serviceName}, watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger)
	case "gochannel", "":
		pubSub := gochannel.New(watermillLogger, gochannel.Async)

		return eventbus.NewWatermillEventBus(pubSub, pubSub, logger)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
