// Package gochannel provides the in-process event channel for single-binary and test setups.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type Mode int

const (
	// Async buffers published events; publishers never wait for handlers.
	Async Mode = iota
	// Sync blocks each publish until a subscriber acks it and replays events to late
	// subscribers. Tests use it to observe delivery deterministically.
	Sync
)

// New returns a GoChannel that is both the publisher and the subscriber.
// Events only reach subscribers of the same process.
func New(logger watermill.LoggerAdapter, mode Mode) *gochannel.GoChannel {
	config := gochannel.Config{OutputChannelBuffer: 1000}

	if mode == Sync {
		config = gochannel.Config{
			OutputChannelBuffer:            10,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: true,
		}
	}

	return gochannel.NewGoChannel(config, logger)
}
