package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Statistic summarises the latest run for a website.
type Statistic struct {
	Website      string    `json:"website"`
	PagesAmount  int       `json:"pages_amount"`
	AnalysisTime int       `json:"analysis_time"` // seconds
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpsertStatistic inserts or overwrites the statistic row for stat.Website.
func (db *DB) UpsertStatistic(ctx context.Context, stat Statistic) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO statistics (website, pages_amount, analysis_time, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (website) DO UPDATE SET
			pages_amount = EXCLUDED.pages_amount,
			analysis_time = EXCLUDED.analysis_time,
			updated_at = EXCLUDED.updated_at
	`, stat.Website, stat.PagesAmount, stat.AnalysisTime)
	if err != nil {
		return fmt.Errorf("failed to upsert statistic: %w", err)
	}
	return nil
}

// GetStatistic returns the statistic for website or ErrNotFound.
func (db *DB) GetStatistic(ctx context.Context, website string) (*Statistic, error) {
	var stat Statistic
	err := db.client.QueryRowContext(ctx, `
		SELECT website, pages_amount, analysis_time, updated_at
		FROM statistics
		WHERE website = $1
	`, website).Scan(&stat.Website, &stat.PagesAmount, &stat.AnalysisTime, &stat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get statistic: %w", err)
	}
	return &stat, nil
}
