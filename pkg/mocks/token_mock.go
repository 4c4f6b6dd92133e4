package mocks

import (
	"context"

	"github.com/ogabrielsv/creatye/pkg/token"
	"github.com/stretchr/testify/mock"
)

// MockRefresher is a mock implementation of token.Refresher interface.
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context, accessToken string) (*token.Refreshed, error) {
	args := m.Called(ctx, accessToken)

	refreshed, _ := args.Get(0).(*token.Refreshed)

	return refreshed, args.Error(1)
}
