package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"wopihost/internal/model"
	"wopihost/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, owner string, r io.Reader, filename string) (*model.Document, error) {
	args := m.Called(ctx, owner, r, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, owner string, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, owner, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, owner, id string) (*model.Document, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, owner, id string) error {
	args := m.Called(ctx, owner, id)
	return args.Error(0)
}

func (m *MockDocumentService) Launch(ctx context.Context, owner, id, action, authority string) (*service.LaunchInfo, error) {
	args := m.Called(ctx, owner, id, action, authority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LaunchInfo), args.Error(1)
}
