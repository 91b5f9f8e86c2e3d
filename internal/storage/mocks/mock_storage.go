package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Upload(ctx context.Context, id, container string, data []byte) (string, error) {
	args := m.Called(ctx, id, container, data)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Read(ctx context.Context, id, container string) ([]byte, error) {
	args := m.Called(ctx, id, container)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, id, container string) (bool, error) {
	args := m.Called(ctx, id, container)
	return args.Bool(0), args.Error(1)
}
