package db

import (
	"context"
	"fmt"
	"time"
)

// ExceptionLog is a recorded non-fatal failure.
type ExceptionLog struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// LogException stores err with a short description of where it happened.
func (db *DB) LogException(ctx context.Context, err error, where string) error {
	if err == nil {
		return nil
	}

	_, execErr := db.client.ExecContext(ctx,
		`INSERT INTO exception_logs (message, context) VALUES ($1, $2)`,
		err.Error(), where)
	if execErr != nil {
		return fmt.Errorf("failed to log exception: %w", execErr)
	}
	return nil
}

// RecentExceptions returns up to limit exception rows, newest first.
func (db *DB) RecentExceptions(ctx context.Context, limit int) ([]ExceptionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.client.QueryContext(ctx, `
		SELECT id, message, context, created_at
		FROM exception_logs
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	logs := make([]ExceptionLog, 0)
	for rows.Next() {
		var l ExceptionLog
		if err := rows.Scan(&l.ID, &l.Message, &l.Context, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		logs = append(logs, l)
	}

	return logs, rows.Err()
}
