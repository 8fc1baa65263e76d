package mocks

import (
	"context"

	"github.com/Harvey-AU/broken-link-bee/internal/db"
	"github.com/stretchr/testify/mock"
)

// MockResultSink is a mock implementation of the run result sink
type MockResultSink struct {
	mock.Mock
}

// ReplaceBrokenEntries mocks the ReplaceBrokenEntries method
func (m *MockResultSink) ReplaceBrokenEntries(ctx context.Context, host string, links, media []db.BrokenLink) error {
	args := m.Called(ctx, host, links, media)
	return args.Error(0)
}

// UpsertStatistic mocks the UpsertStatistic method
func (m *MockResultSink) UpsertStatistic(ctx context.Context, stat db.Statistic) error {
	args := m.Called(ctx, stat)
	return args.Error(0)
}

// MockExceptionLogger is a mock implementation of the exception log
type MockExceptionLogger struct {
	mock.Mock
}

// LogException mocks the LogException method
func (m *MockExceptionLogger) LogException(ctx context.Context, err error, where string) error {
	args := m.Called(ctx, err, where)
	return args.Error(0)
}

// MockProgressReporter is a mock implementation of the progress reporter
type MockProgressReporter struct {
	mock.Mock
}

// UpdateProgress mocks the UpdateProgress method
func (m *MockProgressReporter) UpdateProgress(website, user string, current, total int) {
	m.Called(website, user, current, total)
}
