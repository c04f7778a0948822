// Package mocks provides mock implementations of core interfaces for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

// MockLookupFetcher is a mock implementation of service.LookupFetcher
type MockLookupFetcher struct {
	mock.Mock
}

func (m *MockLookupFetcher) Enabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockLookupFetcher) FetchCSV(ctx context.Context, destPath string) error {
	args := m.Called(ctx, destPath)
	return args.Error(0)
}

// MockPreflighter is a mock implementation of service.Preflighter
type MockPreflighter struct {
	mock.Mock
}

func (m *MockPreflighter) Preflight(ctx context.Context, itemIDs []string) error {
	args := m.Called(ctx, itemIDs)
	return args.Error(0)
}

// MockUploader is a mock implementation of service.Uploader
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadFile(ctx context.Context, key, localPath string) (string, error) {
	args := m.Called(ctx, key, localPath)
	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of service.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) JobFinished(jobID string, status types.JobStatus) error {
	args := m.Called(jobID, status)
	return args.Error(0)
}
