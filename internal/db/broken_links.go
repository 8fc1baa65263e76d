package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// BrokenLink is a link or media reference that did not answer 200,
// attributed to the page that references it.
type BrokenLink struct {
	Host      string    `json:"-"`
	Page      string    `json:"page"`
	Link      string    `json:"link"`
	Status    int       `json:"status"`
	IsMedia   bool      `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// ReplaceBrokenEntries atomically replaces every stored entry for host with
// links and media. An empty set still clears the previous run.
func (db *DB) ReplaceBrokenEntries(ctx context.Context, host string, links, media []BrokenLink) error {
	total := len(links) + len(media)
	pages := make([]string, 0, total)
	targets := make([]string, 0, total)
	statuses := make([]int64, 0, total)
	isMedia := make([]bool, 0, total)

	collect := func(entries []BrokenLink, media bool) {
		for _, e := range entries {
			pages = append(pages, e.Page)
			targets = append(targets, e.Link)
			statuses = append(statuses, int64(e.Status))
			isMedia = append(isMedia, media)
		}
	}
	collect(links, false)
	collect(media, true)

	err := db.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM broken_links WHERE host = $1`, host); err != nil {
			return fmt.Errorf("failed to delete broken links for host: %w", err)
		}

		if total == 0 {
			return nil
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO broken_links (host, page, link, status, is_media)
			SELECT $1, entries.page, entries.link, entries.status, entries.is_media
			FROM (
				SELECT
					unnest($2::text[]) AS page,
					unnest($3::text[]) AS link,
					unnest($4::integer[]) AS status,
					unnest($5::boolean[]) AS is_media
			) AS entries
		`, host, pq.Array(pages), pq.Array(targets), pq.Array(statuses), pq.Array(isMedia))
		if err != nil {
			return fmt.Errorf("failed to insert broken links: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("host", host).
		Int("broken_links", len(links)).
		Int("broken_media", len(media)).
		Msg("Replaced broken entries")

	return nil
}

// GetBrokenLinks returns the stored entries for host in insertion order.
func (db *DB) GetBrokenLinks(ctx context.Context, host string) ([]BrokenLink, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT host, page, link, status, is_media, created_at
		FROM broken_links
		WHERE host = $1
		ORDER BY id
	`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to query broken links: %w", err)
	}
	defer rows.Close()

	entries := make([]BrokenLink, 0)
	for rows.Next() {
		var e BrokenLink
		if err := rows.Scan(&e.Host, &e.Page, &e.Link, &e.Status, &e.IsMedia, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan broken link: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate broken links: %w", err)
	}

	return entries, nil
}
