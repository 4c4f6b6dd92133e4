package mocks

import (
	"context"

	"github.com/ogabrielsv/creatye/pkg/eventbus"
	"github.com/ogabrielsv/creatye/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus records published events and registered handlers.
type MockEventBus struct {
	mock.Mock
}

// ExpectPublish accepts one publish of the given event type with any key.
func (m *MockEventBus) ExpectPublish(eventType events.EventType) *mock.Call {
	return m.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(event eventbus.Event) bool {
		return event.GetType() == eventType
	})).Return(nil)
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	return m.Called(ctx, key, event).Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	return m.Called(eventType, handler).Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventBus) Close() error {
	return m.Called().Error(0)
}
