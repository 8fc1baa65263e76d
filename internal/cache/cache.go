package cache

import (
	"sort"
	"sync"
	"time"
)

// Progress is the latest page-level progress of a crawl for one website and user.
type Progress struct {
	Website   string    `json:"website"`
	User      string    `json:"user"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the final event of a run has been seen.
func (p Progress) Done() bool {
	return p.Total > 0 && p.Current == p.Total
}

type progressKey struct {
	website string
	user    string
}

// ProgressBoard is a concurrent-safe in-memory store of the most recent
// progress event per (website, user) pair.
type ProgressBoard struct {
	mu    sync.RWMutex
	items map[progressKey]Progress
	now   func() time.Time
}

// NewProgressBoard creates and returns an empty ProgressBoard.
func NewProgressBoard() *ProgressBoard {
	return &ProgressBoard{
		items: make(map[progressKey]Progress),
		now:   time.Now,
	}
}

// UpdateProgress records a progress event, replacing the previous one.
func (b *ProgressBoard) UpdateProgress(website, user string, current, total int) {
	b.Set(Progress{
		Website: website,
		User:    user,
		Current: current,
		Total:   total,
	})
}

// Get retrieves the latest progress for website and user.
// It returns the progress and true if an event was recorded, otherwise false.
func (b *ProgressBoard) Get(website, user string) (Progress, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, found := b.items[progressKey{website, user}]
	return p, found
}

// Set adds or updates a progress entry, stamping UpdatedAt.
func (b *ProgressBoard) Set(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.UpdatedAt = b.now().UTC()
	b.items[progressKey{p.Website, p.User}] = p
}

// Delete removes the progress entry for website and user.
func (b *ProgressBoard) Delete(website, user string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, progressKey{website, user})
}

// Prune removes entries not updated for longer than ttl and returns how many
// were removed. Entries whose website satisfies keep are left alone; keep may
// be nil.
func (b *ProgressBoard) Prune(ttl time.Duration, keep func(website string) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-ttl)
	removed := 0
	for k, p := range b.items {
		if !p.UpdatedAt.Before(cutoff) {
			continue
		}
		if keep != nil && keep(k.website) {
			continue
		}
		delete(b.items, k)
		removed++
	}
	return removed
}

// ForWebsite returns every entry for website ordered by user.
func (b *ProgressBoard) ForWebsite(website string) []Progress {
	b.mu.RLock()
	out := make([]Progress, 0)
	for k, p := range b.items {
		if k.website == website {
			out = append(out, p)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}
