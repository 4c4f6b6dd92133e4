package mocks

import (
	"context"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of ingest.Engine interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Start(ctx context.Context, automation *models.Automation, recipientID string, triggeredAt time.Time, data map[string]any) (*models.Execution, error) {
	args := m.Called(ctx, automation, recipientID, triggeredAt, data)

	execution, _ := args.Get(0).(*models.Execution)

	return execution, args.Error(1)
}

func (m *MockEngine) Resume(ctx context.Context, executionID, senderID, handle string) error {
	args := m.Called(ctx, executionID, senderID, handle)

	return args.Error(0)
}
