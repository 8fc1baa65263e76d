package jobs

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/db"
)

// MemorySink keeps results in process. It is used by the CLI and when no
// database is configured.
type MemorySink struct {
	mu         sync.RWMutex
	entries    map[string][]db.BrokenLink
	statistics map[string]db.Statistic
	exceptions []db.ExceptionLog
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		entries:    make(map[string][]db.BrokenLink),
		statistics: make(map[string]db.Statistic),
	}
}

// ReplaceBrokenEntries swaps the stored entries for host.
func (s *MemorySink) ReplaceBrokenEntries(_ context.Context, host string, links, media []db.BrokenLink) error {
	now := time.Now().UTC()
	entries := make([]db.BrokenLink, 0, len(links)+len(media))
	for _, l := range links {
		l.Host, l.IsMedia, l.CreatedAt = host, false, now
		entries = append(entries, l)
	}
	for _, m := range media {
		m.Host, m.IsMedia, m.CreatedAt = host, true, now
		entries = append(entries, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[host] = entries
	return nil
}

// UpsertStatistic stores stat under its website.
func (s *MemorySink) UpsertStatistic(_ context.Context, stat db.Statistic) error {
	stat.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statistics[stat.Website] = stat
	return nil
}

// GetBrokenLinks returns a copy of the entries stored for host.
func (s *MemorySink) GetBrokenLinks(_ context.Context, host string) ([]db.BrokenLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := slices.Clone(s.entries[host])
	if entries == nil {
		entries = make([]db.BrokenLink, 0)
	}
	return entries, nil
}

// GetStatistic returns the statistic for website or db.ErrNotFound.
func (s *MemorySink) GetStatistic(_ context.Context, website string) (*db.Statistic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stat, ok := s.statistics[website]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &stat, nil
}

// LogException keeps err in memory.
func (s *MemorySink) LogException(_ context.Context, err error, where string) error {
	if err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = append(s.exceptions, db.ExceptionLog{
		ID:        int64(len(s.exceptions) + 1),
		Message:   err.Error(),
		Context:   where,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Exceptions returns the recorded exceptions, oldest first.
func (s *MemorySink) Exceptions() []db.ExceptionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.exceptions)
}

// RecentExceptions returns up to limit exceptions, newest first.
func (s *MemorySink) RecentExceptions(_ context.Context, limit int) ([]db.ExceptionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]db.ExceptionLog, 0, min(limit, len(s.exceptions)))
	for i := len(s.exceptions) - 1; i >= 0 && len(logs) < limit; i-- {
		logs = append(logs, s.exceptions[i])
	}
	return logs, nil
}
