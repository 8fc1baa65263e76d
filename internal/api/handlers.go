package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Harvey-AU/broken-link-bee/internal/cache"
	"github.com/Harvey-AU/broken-link-bee/internal/db"
	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

const serviceName = "broken-link-bee"

// RunManager starts crawl runs and reports on them.
type RunManager interface {
	Start(ctx context.Context, website, user string) (string, error)
	Get(runID string) (jobs.RunInfo, bool)
}

// ProgressSource exposes the latest progress per website and user.
type ProgressSource interface {
	Get(website, user string) (cache.Progress, bool)
	ForWebsite(website string) []cache.Progress
}

// ResultStore reads stored run results.
type ResultStore interface {
	GetBrokenLinks(ctx context.Context, host string) ([]db.BrokenLink, error)
	GetStatistic(ctx context.Context, website string) (*db.Statistic, error)
	RecentExceptions(ctx context.Context, limit int) ([]db.ExceptionLog, error)
}

// DBPinger checks database connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers
type Handler struct {
	Runs     RunManager
	Progress ProgressSource
	Store    ResultStore
	DB       DBPinger // nil when running without a database
}

// NewHandler creates a new API handler with dependencies
func NewHandler(runs RunManager, progress ProgressSource, store ResultStore, database DBPinger) *Handler {
	return &Handler{
		Runs:     runs,
		Progress: progress,
		Store:    store,
		DB:       database,
	}
}

// SetupRoutes registers every API route on mux
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	mux.HandleFunc("/v1/crawls", h.CrawlsHandler)
	mux.HandleFunc("/v1/crawls/", h.CrawlHandler) // For /v1/crawls/:id
	mux.HandleFunc("/v1/progress", h.ProgressHandler)
	mux.HandleFunc("/v1/broken-links", h.BrokenLinksHandler)
	mux.HandleFunc("/v1/statistics", h.StatisticsHandler)
	mux.HandleFunc("/v1/exceptions", h.ExceptionsHandler)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, serviceName, Version)
}

// DatabaseHealthCheck handles database health check requests
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", fmt.Errorf("database connection not configured"))
		return
	}

	if err := h.DB.Ping(r.Context()); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteHealthy(w, r, "postgresql", Version)
}

// CreateCrawlRequest is the body of POST /v1/crawls
type CreateCrawlRequest struct {
	Website string `json:"website"`
	User    string `json:"user"`
}

// CrawlsHandler starts a crawl run
func (h *Handler) CrawlsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req CreateCrawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}
	if strings.TrimSpace(req.Website) == "" {
		BadRequest(w, r, "website is required")
		return
	}

	runID, err := h.Runs.Start(r.Context(), req.Website, req.User)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrRunInProgress):
		Conflict(w, r, err.Error())
		return
	case errors.Is(err, jobs.ErrManagerStopped):
		ServiceUnavailable(w, r, "Service is shutting down")
		return
	default:
		BadRequest(w, r, err.Error())
		return
	}

	logger := loggerWithRequest(r)
	logger.Info().
		Str("run_id", runID).
		Str("website", req.Website).
		Msg("Crawl run accepted")

	WriteCreated(w, r, map[string]string{"run_id": runID}, "Crawl started")
}

// CrawlHandler returns the status of a single run
func (h *Handler) CrawlHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/crawls/"), "/")
	if runID == "" || strings.Contains(runID, "/") {
		NotFound(w, r, "Run not found")
		return
	}

	info, ok := h.Runs.Get(runID)
	if !ok {
		NotFound(w, r, "Run not found")
		return
	}

	WriteSuccess(w, r, info, "")
}

// ProgressHandler returns progress for a website, optionally for one user
func (h *Handler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	website := r.URL.Query().Get("website")
	if website == "" {
		BadRequest(w, r, "website query parameter is required")
		return
	}

	if r.URL.Query().Has("user") {
		p, ok := h.Progress.Get(website, r.URL.Query().Get("user"))
		if !ok {
			NotFound(w, r, "No progress recorded")
			return
		}
		WriteSuccess(w, r, p, "")
		return
	}

	WriteSuccess(w, r, h.Progress.ForWebsite(website), "")
}

// BrokenLinksHandler returns the stored broken entries for a host, split
// into links and media
func (h *Handler) BrokenLinksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	host := r.URL.Query().Get("host")
	if host == "" {
		BadRequest(w, r, "host query parameter is required")
		return
	}

	entries, err := h.Store.GetBrokenLinks(r.Context(), host)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	result := jobs.Result{
		BrokenLinks: make([]db.BrokenLink, 0),
		BrokenMedia: make([]db.BrokenLink, 0),
	}
	for _, e := range entries {
		if e.IsMedia {
			result.BrokenMedia = append(result.BrokenMedia, e)
		} else {
			result.BrokenLinks = append(result.BrokenLinks, e)
		}
	}

	WriteSuccess(w, r, result, "")
}

// StatisticsHandler returns the stored statistic for a website
func (h *Handler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	website := r.URL.Query().Get("website")
	if website == "" {
		BadRequest(w, r, "website query parameter is required")
		return
	}

	stat, err := h.Store.GetStatistic(r.Context(), website)
	if errors.Is(err, db.ErrNotFound) {
		NotFound(w, r, "No statistic recorded for website")
		return
	}
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, stat, "")
}

// ExceptionsHandler returns the most recent non-fatal crawl exceptions
func (h *Handler) ExceptionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			BadRequest(w, r, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	logs, err := h.Store.RecentExceptions(r.Context(), limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, logs, "")
}
