package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRunInProgress is returned when a website already has an active run.
	ErrRunInProgress = errors.New("a run for this website is already in progress")
	// ErrManagerStopped is returned by Start after Stop has been called.
	ErrManagerStopped = errors.New("run manager is stopped")
)

// Manager starts runs in the background and keeps their status, allowing at
// most one active run per website.
type Manager struct {
	runner *Runner

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	runs    map[string]*RunInfo
	done    map[string]chan struct{}
	active  map[string]string // website -> run ID
	stopped bool

	now func() time.Time
}

// NewManager creates a run manager around runner
func NewManager(runner *Runner) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:  runner,
		baseCtx: ctx,
		cancel:  cancel,
		runs:    make(map[string]*RunInfo),
		done:    make(map[string]chan struct{}),
		active:  make(map[string]string),
		now:     time.Now,
	}
}

// Start validates website and launches a run for it. The run outlives ctx;
// it stops only when it completes or the manager is stopped.
func (m *Manager) Start(ctx context.Context, website, user string) (string, error) {
	span := sentry.StartSpan(ctx, "manager.start_run")
	defer span.Finish()

	website, err := util.NormaliseWebsite(website)
	if err != nil {
		return "", err
	}
	span.SetTag("website", website)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", ErrManagerStopped
	}
	if existing, ok := m.active[website]; ok {
		m.mu.Unlock()
		log.Info().
			Str("website", website).
			Str("existing_run_id", existing).
			Msg("Rejected run, website already has an active run")
		return "", fmt.Errorf("%w: %s", ErrRunInProgress, existing)
	}

	info := &RunInfo{
		ID:        uuid.New().String(),
		Website:   website,
		User:      user,
		Status:    RunStatusRunning,
		StartedAt: m.now().UTC(),
	}
	done := make(chan struct{})
	m.runs[info.ID] = info
	m.done[info.ID] = done
	m.active[website] = info.ID
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(info.ID, website, user, done)

	log.Info().
		Str("run_id", info.ID).
		Str("website", website).
		Str("user", user).
		Msg("Run started")

	return info.ID, nil
}

func (m *Manager) execute(runID, website, user string, done chan struct{}) {
	defer m.wg.Done()
	defer close(done)

	result, err := m.runner.run(m.baseCtx, runID, website, user)

	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.runs[runID]
	now := m.now().UTC()
	info.CompletedAt = &now
	delete(m.active, website)

	switch {
	case err == nil:
		info.Status = RunStatusCompleted
		info.Result = result
		info.PagesAmount = result.Statistic.PagesAmount
	case errors.Is(err, context.Canceled):
		info.Status = RunStatusCancelled
		info.Error = err.Error()
		log.Warn().Str("run_id", runID).Str("website", website).Msg("Run cancelled")
	default:
		info.Status = RunStatusFailed
		info.Error = err.Error()
		sentry.CaptureException(err)
		log.Error().
			Err(err).
			Str("run_id", runID).
			Str("website", website).
			Msg("Run failed")
	}
}

// Get returns a snapshot of the run with runID.
func (m *Manager) Get(runID string) (RunInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.runs[runID]
	if !ok {
		return RunInfo{}, false
	}
	return *info, true
}

// ActiveRun returns the ID of the running crawl for website, if any.
func (m *Manager) ActiveRun(website string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[website]
	return id, ok
}

// Wait blocks until the run finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, runID string) (RunInfo, error) {
	m.mu.RLock()
	done, ok := m.done[runID]
	m.mu.RUnlock()
	if !ok {
		return RunInfo{}, fmt.Errorf("unknown run %s", runID)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return RunInfo{}, ctx.Err()
	}

	info, _ := m.Get(runID)
	return info, nil
}

// Prune forgets finished runs that completed more than retention ago and
// returns how many were removed. Active runs are never pruned.
func (m *Manager) Prune(retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-retention)
	removed := 0
	for id, info := range m.runs {
		if info.CompletedAt == nil || !info.CompletedAt.Before(cutoff) {
			continue
		}
		delete(m.runs, id)
		delete(m.done, id)
		removed++
	}
	return removed
}

// Stop cancels every active run and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	log.Info().Msg("Run manager stopped")
}
