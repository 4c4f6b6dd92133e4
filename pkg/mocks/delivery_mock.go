package mocks

import (
	"context"

	"github.com/ogabrielsv/creatye/pkg/delivery"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of delivery.Adapter interface.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Send(ctx context.Context, credential *models.Credential, recipientID string, payload delivery.Payload) (*delivery.Result, error) {
	args := m.Called(ctx, credential, recipientID, payload)

	result, _ := args.Get(0).(*delivery.Result)

	return result, args.Error(1)
}
