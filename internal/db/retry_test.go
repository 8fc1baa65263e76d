package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestConnectWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	want := &DB{}

	got, err := connectWithRetry(context.Background(), fastRetryConfig(5), func() (*DB, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return want, nil
	})

	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_NonRetryableFailsFast(t *testing.T) {
	calls := 0

	_, err := connectWithRetry(context.Background(), fastRetryConfig(5), func() (*DB, error) {
		calls++
		return nil, fmt.Errorf("%w: database host is required", ErrInvalidConfig)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnectWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0

	_, err := connectWithRetry(context.Background(), fastRetryConfig(3), func() (*DB, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestConnectWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetryConfig(10)
	cfg.InitialInterval = time.Hour

	calls := 0
	_, err := connectWithRetry(ctx, cfg, func() (*DB, error) {
		calls++
		cancel()
		return nil, errors.New("connection refused")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNextBackoff(t *testing.T) {
	cfg := RetryConfig{Multiplier: 2.0, MaxInterval: 10 * time.Second}

	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, cfg))
	assert.Equal(t, 10*time.Second, nextBackoff(8*time.Second, cfg))

	cfg.Jitter = true
	for range 20 {
		next := nextBackoff(time.Second, cfg)
		assert.InDelta(t, float64(2*time.Second), float64(next), float64(200*time.Millisecond))
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid_config", fmt.Errorf("wrap: %w", ErrInvalidConfig), false},
		{"pgx_connection_exception", &pgconn.PgError{Code: "08006"}, true},
		{"pgx_too_many_connections", &pgconn.PgError{Code: "53300"}, true},
		{"pgx_auth_failure", &pgconn.PgError{Code: "28P01"}, false},
		{"pgx_unknown_database", &pgconn.PgError{Code: "3D000"}, false},
		{"pgx_unique_violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), false},
		{"pq_admin_shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq_invalid_text", &pq.Error{Code: "22P02"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"unknown", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 10, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxInterval)
	assert.True(t, cfg.Jitter)
}
