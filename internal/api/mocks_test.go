package api

import (
	"context"

	"github.com/Harvey-AU/broken-link-bee/internal/db"
	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
	"github.com/stretchr/testify/mock"
)

// MockRunManager is a mock implementation of RunManager
type MockRunManager struct {
	mock.Mock
}

func (m *MockRunManager) Start(ctx context.Context, website, user string) (string, error) {
	args := m.Called(ctx, website, user)
	return args.String(0), args.Error(1)
}

func (m *MockRunManager) Get(runID string) (jobs.RunInfo, bool) {
	args := m.Called(runID)
	return args.Get(0).(jobs.RunInfo), args.Bool(1)
}

// MockResultStore is a mock implementation of ResultStore
type MockResultStore struct {
	mock.Mock
}

func (m *MockResultStore) GetBrokenLinks(ctx context.Context, host string) ([]db.BrokenLink, error) {
	args := m.Called(ctx, host)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.BrokenLink), args.Error(1)
}

func (m *MockResultStore) GetStatistic(ctx context.Context, website string) (*db.Statistic, error) {
	args := m.Called(ctx, website)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Statistic), args.Error(1)
}

func (m *MockResultStore) RecentExceptions(ctx context.Context, limit int) ([]db.ExceptionLog, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.ExceptionLog), args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }
