// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

var ErrUnknownEventType = errors.New("unknown event type")

const Topic = "creatye.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent  EventType = "execution.started"
	ExecutionFinishedEvent EventType = "execution.finished"
	ExecutionFailedEvent   EventType = "execution.failed"

	// Ingestion events.
	InboundReceivedEvent EventType = "inbound.received"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	VersionID   string `json:"version_id"`
	RecipientID string `json:"recipient_id"`
	TriggerText string `json:"trigger_text,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	LastNodeID  string        `json:"last_node_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// InboundReceived announces a webhook delivery appended to the inbound queue.
type InboundReceived struct {
	BaseEvent

	InboundEventID int64 `json:"inbound_event_id"`
}

func (e InboundReceived) GetType() EventType {
	return InboundReceivedEvent
}

func NewBaseEvent(eventType EventType, automationID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AutomationID: automationID,
		Metadata:     make(map[string]any),
	}
}

// Decode rebuilds a typed event from its bus payload. The returned value is a pointer
// to the concrete event struct.
func Decode(eventType EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case ExecutionStartedEvent:
		event = &ExecutionStarted{}
	case ExecutionFinishedEvent:
		event = &ExecutionFinished{}
	case ExecutionFailedEvent:
		event = &ExecutionFailed{}
	case InboundReceivedEvent:
		event = &InboundReceived{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, err
	}

	return event, nil
}
