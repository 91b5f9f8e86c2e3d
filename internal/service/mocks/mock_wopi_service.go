package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"wopihost/internal/service"
)

type MockWopiService struct {
	mock.Mock
}

func (m *MockWopiService) Authorize(ctx context.Context, id, token string) error {
	args := m.Called(ctx, id, token)
	return args.Error(0)
}

func (m *MockWopiService) Dispatch(ctx context.Context, req service.WopiRequest) service.WopiResponse {
	args := m.Called(ctx, req)
	return args.Get(0).(service.WopiResponse)
}
