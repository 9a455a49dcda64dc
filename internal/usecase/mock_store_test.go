package usecase

import (
	"context"
	"io"

	"github.com/semmidev/davkeep/internal/domain"
	"github.com/stretchr/testify/mock"
)

var _ domain.RemoteFileStore = (*MockStore)(nil)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Exists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CreateDirectory(ctx context.Context, path string, recursive bool) error {
	args := m.Called(ctx, path, recursive)
	return args.Error(0)
}

func (m *MockStore) GetDirectoryContents(ctx context.Context, path string) ([]domain.FileStat, error) {
	args := m.Called(ctx, path)
	return args.Get(0).([]domain.FileStat), args.Error(1)
}

func (m *MockStore) MoveFile(ctx context.Context, source, destination string) error {
	args := m.Called(ctx, source, destination)
	return args.Error(0)
}

func (m *MockStore) DeleteFile(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockStore) PutFileContents(ctx context.Context, path string, content io.Reader, opts domain.PutOptions) (domain.WriteResult, error) {
	args := m.Called(ctx, path, content, opts)
	return args.Get(0).(domain.WriteResult), args.Error(1)
}

func (m *MockStore) GetFileContents(ctx context.Context, path string, opts domain.GetOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, path, opts)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}
