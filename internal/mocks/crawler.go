package mocks

import (
	"context"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/stretchr/testify/mock"
)

// MockLinkExtractor is a mock implementation of the page link extractor
type MockLinkExtractor struct {
	mock.Mock
}

// ExtractLinks mocks the ExtractLinks method
func (m *MockLinkExtractor) ExtractLinks(ctx context.Context, pageURL string) (*crawler.PageLinks, error) {
	args := m.Called(ctx, pageURL)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*crawler.PageLinks), args.Error(1)
}

// MockStatusChecker is a mock implementation of the link status checker
type MockStatusChecker struct {
	mock.Mock
}

// CheckStatus mocks the CheckStatus method
func (m *MockStatusChecker) CheckStatus(ctx context.Context, link string) crawler.Status {
	args := m.Called(ctx, link)
	return args.Get(0).(crawler.Status)
}

// IsMediaBroken mocks the IsMediaBroken method
func (m *MockStatusChecker) IsMediaBroken(ctx context.Context, link string) (bool, crawler.Status) {
	args := m.Called(ctx, link)
	return args.Bool(0), args.Get(1).(crawler.Status)
}
