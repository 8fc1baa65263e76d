package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, extractor LinkExtractor, sink ResultSink) *Manager {
	t.Helper()
	r, err := NewRunner(Dependencies{Extractor: extractor, Checker: newFakeChecker(nil), Sink: sink}, RunnerConfig{})
	require.NoError(t, err)
	m := NewManager(r)
	t.Cleanup(m.Stop)
	return m
}

func waitRun(t *testing.T, m *Manager, runID string) RunInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := m.Wait(ctx, runID)
	require.NoError(t, err)
	return info
}

func TestManagerStartRejectsInvalidWebsite(t *testing.T) {
	m := newTestManager(t, newFakeSite(nil), NewMemorySink())

	tests := []struct {
		name    string
		website string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"no_scheme", "site.test"},
		{"ftp_scheme", "ftp://site.test/"},
		{"no_host", "http:///path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := m.Start(context.Background(), tt.website, "u1")
			assert.Error(t, err)
			assert.Empty(t, id)
		})
	}
}

func TestManagerRunCompletes(t *testing.T) {
	fs := newFakeSite(map[string][]string{
		site:                 {"/a", "/dead"},
		"http://site.test/a": {},
	})
	sink := NewMemorySink()
	m := newTestManager(t, fs, sink)
	m.runner.checker = newFakeChecker(map[string]int{"http://site.test/dead": 404})

	id, err := m.Start(context.Background(), "  "+site+" ", "u1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	info := waitRun(t, m, id)
	assert.Equal(t, RunStatusCompleted, info.Status)
	assert.Equal(t, site, info.Website)
	assert.Equal(t, "u1", info.User)
	assert.Equal(t, 3, info.PagesAmount)
	require.NotNil(t, info.Result)
	require.Len(t, info.Result.BrokenLinks, 1)
	assert.Equal(t, 404, info.Result.BrokenLinks[0].Status)
	require.NotNil(t, info.CompletedAt)
	assert.True(t, info.Done())
	assert.Empty(t, info.Error)

	_, active := m.ActiveRun(site)
	assert.False(t, active)
}

func TestManagerOneActiveRunPerWebsite(t *testing.T) {
	fs := newFakeSite(map[string][]string{
		site:                 {},
		"http://other.test/": {},
	})
	release := make(chan struct{})
	fs.delay = func(string) time.Duration {
		<-release
		return 0
	}
	m := newTestManager(t, fs, NewMemorySink())

	first, err := m.Start(context.Background(), site, "u1")
	require.NoError(t, err)

	activeID, active := m.ActiveRun(site)
	assert.True(t, active)
	assert.Equal(t, first, activeID)

	_, err = m.Start(context.Background(), site, "u2")
	assert.ErrorIs(t, err, ErrRunInProgress)

	other, err := m.Start(context.Background(), "http://other.test/", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	close(release)

	assert.Equal(t, RunStatusCompleted, waitRun(t, m, first).Status)
	assert.Equal(t, RunStatusCompleted, waitRun(t, m, other).Status)

	again, err := m.Start(context.Background(), site, "u2")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, waitRun(t, m, again).Status)
}

func TestManagerRunFailsOnSinkError(t *testing.T) {
	sink := &mocks.MockResultSink{}
	sink.On("ReplaceBrokenEntries", mock.Anything, site, mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	m := newTestManager(t, newFakeSite(map[string][]string{site: {}}), sink)

	id, err := m.Start(context.Background(), site, "")
	require.NoError(t, err)

	info := waitRun(t, m, id)
	assert.Equal(t, RunStatusFailed, info.Status)
	assert.Contains(t, info.Error, "connection refused")
	assert.Nil(t, info.Result)
}

func TestManagerStopCancelsRuns(t *testing.T) {
	fs := newFakeSite(map[string][]string{site: {}})
	fs.delay = func(string) time.Duration { return time.Minute }
	sink := &mocks.MockResultSink{}

	r, err := NewRunner(Dependencies{Extractor: fs, Checker: newFakeChecker(nil), Sink: sink}, RunnerConfig{})
	require.NoError(t, err)
	m := NewManager(r)

	id, err := m.Start(context.Background(), site, "")
	require.NoError(t, err)

	m.Stop()

	info, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, RunStatusCancelled, info.Status)
	sink.AssertNotCalled(t, "ReplaceBrokenEntries", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = m.Start(context.Background(), site, "")
	assert.ErrorIs(t, err, ErrManagerStopped)
}

func TestManagerRunOutlivesRequestContext(t *testing.T) {
	fs := newFakeSite(map[string][]string{site: {}})
	fs.delay = func(string) time.Duration { return 20 * time.Millisecond }
	m := newTestManager(t, fs, NewMemorySink())

	ctx, cancel := context.WithCancel(context.Background())
	id, err := m.Start(ctx, site, "")
	require.NoError(t, err)
	cancel()

	assert.Equal(t, RunStatusCompleted, waitRun(t, m, id).Status)
}

func TestManagerGetAndWaitUnknownRun(t *testing.T) {
	m := newTestManager(t, newFakeSite(nil), NewMemorySink())

	_, ok := m.Get("missing")
	assert.False(t, ok)

	_, err := m.Wait(context.Background(), "missing")
	assert.Error(t, err)
}

func TestManagerWaitRespectsContext(t *testing.T) {
	fs := newFakeSite(map[string][]string{site: {}})
	fs.delay = func(string) time.Duration { return time.Minute }
	m := newTestManager(t, fs, NewMemorySink())

	id, err := m.Start(context.Background(), site, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	info, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, RunStatusRunning, info.Status)
	assert.False(t, info.Done())
}

// testClock is a settable time source safe for use across goroutines.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestManagerPruneForgetsFinishedRuns(t *testing.T) {
	const slowSite = "http://slow.test/"

	fs := newFakeSite(map[string][]string{site: {}, slowSite: {}})
	fs.delay = func(page string) time.Duration {
		if page == slowSite {
			return time.Hour
		}
		return 0
	}

	m := newTestManager(t, fs, NewMemorySink())
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clock.now

	finishedID, err := m.Start(context.Background(), site, "u1")
	require.NoError(t, err)
	waitRun(t, m, finishedID)

	runningID, err := m.Start(context.Background(), slowSite, "u1")
	require.NoError(t, err)

	assert.Equal(t, 0, m.Prune(time.Hour), "nothing is old enough yet")

	clock.advance(2 * time.Hour)
	assert.Equal(t, 1, m.Prune(time.Hour))

	_, found := m.Get(finishedID)
	assert.False(t, found)
	_, err = m.Wait(context.Background(), finishedID)
	assert.Error(t, err)

	info, found := m.Get(runningID)
	require.True(t, found, "active runs are kept")
	assert.Equal(t, RunStatusRunning, info.Status)
}

func TestManagerGetReturnsSnapshot(t *testing.T) {
	m := newTestManager(t, newFakeSite(map[string][]string{site: {}}), NewMemorySink())

	id, err := m.Start(context.Background(), site, "u1")
	require.NoError(t, err)
	waitRun(t, m, id)

	info, found := m.Get(id)
	require.True(t, found)
	info.Status = RunStatusFailed
	info.Website = "changed"

	again, found := m.Get(id)
	require.True(t, found)
	assert.Equal(t, RunStatusCompleted, again.Status)
	assert.Equal(t, site, again.Website)
}
