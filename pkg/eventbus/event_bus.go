// Package eventbus carries execution lifecycle and ingestion notifications between
// the api and the worker.
package eventbus

import (
	"context"

	"github.com/ogabrielsv/creatye/pkg/events"
)

// Event is anything with a registered events.EventType.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends events. key orders events of the same entity on partitioned transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives the decoded event as a pointer to its concrete struct.
// Returning an error asks the transport to redeliver.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher

	// Handle registers the handler for one event type; it must be called before Subscribe.
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
	Close() error
}
