package jobs

import (
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/db"
)

// RunStatus represents the current status of a crawl run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// LinkReference is a normalised link found on a page.
type LinkReference struct {
	Source string
	Target string
	Kind   crawler.LinkKind
}

// Result holds the broken entries found by one run.
type Result struct {
	BrokenLinks []db.BrokenLink `json:"brokenLinks"`
	BrokenMedia []db.BrokenLink `json:"brokenMedia"`

	// Statistic is what was recorded for the run; it is not part of the result payload.
	Statistic db.Statistic `json:"-"`
}

// RunInfo describes a run started through the Manager.
type RunInfo struct {
	ID          string     `json:"id"`
	Website     string     `json:"website"`
	User        string     `json:"user"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PagesAmount int        `json:"pages_amount,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Done reports whether the run has finished in any state.
func (r RunInfo) Done() bool {
	return r.Status != RunStatusRunning
}
