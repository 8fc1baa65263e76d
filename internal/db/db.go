package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host             string        // Database host
	Port             string        // Database port
	User             string        // Database user
	Password         string        // Database password
	Database         string        // Database name
	SSLMode          string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns     int           // Maximum number of idle connections
	MaxOpenConns     int           // Maximum number of open connections
	MaxLifetime      time.Duration // Maximum lifetime of a connection
	StatementTimeout time.Duration // Server-side statement_timeout, 0 leaves the server default
	DatabaseURL      string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	dsn := c.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	}

	return withStatementTimeout(dsn, c.StatementTimeout)
}

// withStatementTimeout appends statement_timeout to a URL or key=value DSN
// unless one is already present.
func withStatementTimeout(dsn string, timeout time.Duration) string {
	if dsn == "" || timeout <= 0 || strings.Contains(dsn, "statement_timeout") {
		return dsn
	}
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)

	if strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("statement_timeout", ms)
		u.RawQuery = q.Encode()
		return u.String()
	}

	return dsn + " statement_timeout=" + ms
}

func (c *Config) applyDefaults() {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 20 * time.Minute
	}
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		// Validate required fields
		if config.Host == "" {
			return nil, fmt.Errorf("%w: database host is required", ErrInvalidConfig)
		}
		if config.Port == "" {
			return nil, fmt.Errorf("%w: database port is required", ErrInvalidConfig)
		}
		if config.User == "" {
			return nil, fmt.Errorf("%w: database user is required", ErrInvalidConfig)
		}
		if config.Database == "" {
			return nil, fmt.Errorf("%w: database name is required", ErrInvalidConfig)
		}
	}

	config.applyDefaults()

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.PingContext(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	log.Info().
		Str("host", config.Host).
		Str("database", config.Database).
		Bool("from_url", config.DatabaseURL != "").
		Msg("Connected to PostgreSQL")

	return &DB{client: client, config: config}, nil
}

// ConfigFromEnv builds a Config from DATABASE_URL or the POSTGRES_* variables.
func ConfigFromEnv() *Config {
	var timeout time.Duration
	if v := os.Getenv("DB_STATEMENT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return &Config{
			DatabaseURL:      dsn,
			StatementTimeout: timeout,
		}
	}

	config := &Config{
		Host:             os.Getenv("POSTGRES_HOST"),
		Port:             os.Getenv("POSTGRES_PORT"),
		User:             os.Getenv("POSTGRES_USER"),
		Password:         os.Getenv("POSTGRES_PASSWORD"),
		Database:         os.Getenv("POSTGRES_DB"),
		SSLMode:          os.Getenv("POSTGRES_SSL_MODE"),
		StatementTimeout: timeout,
	}

	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "broken_link_bee"
	}

	return config
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	return New(ConfigFromEnv())
}

// setupSchema creates the necessary tables in PostgreSQL
func setupSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS broken_links (
			id BIGSERIAL PRIMARY KEY,
			host TEXT NOT NULL,
			page TEXT NOT NULL,
			link TEXT NOT NULL,
			status INTEGER NOT NULL,
			is_media BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create broken_links table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_broken_links_host ON broken_links(host)`)
	if err != nil {
		return fmt.Errorf("failed to create broken_links host index: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS statistics (
			website TEXT PRIMARY KEY,
			pages_amount INTEGER NOT NULL,
			analysis_time INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create statistics table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS exception_logs (
			id BIGSERIAL PRIMARY KEY,
			message TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create exception_logs table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.client.PingContext(ctx)
}

// ResetSchema drops and recreates every table.
func (db *DB) ResetSchema(ctx context.Context) error {
	log.Warn().Msg("Resetting PostgreSQL schema")

	tables := []string{"broken_links", "statistics", "exception_logs"}
	for _, table := range tables {
		if _, err := db.client.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, table)); err != nil {
			log.Error().Err(err).Str("table", table).Msg("Failed to drop table")
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		log.Debug().Str("table", table).Msg("Successfully dropped table")
	}

	if err := setupSchema(ctx, db.client); err != nil {
		log.Error().Err(err).Msg("Failed to recreate schema")
		return fmt.Errorf("failed to recreate schema: %w", err)
	}

	log.Info().Msg("Successfully reset database schema")
	return nil
}

// execTx runs fn inside a transaction, rolling back on error.
func (db *DB) execTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
