// Package httpapi is the device-local control surface: the UI process reads
// merged views, triggers syncs, and subscribes to events through it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tractorcare/fieldsync/internal/connectivity"
	"github.com/tractorcare/fieldsync/internal/events"
	"github.com/tractorcare/fieldsync/internal/ledger"
	"github.com/tractorcare/fieldsync/internal/pending"
	"github.com/tractorcare/fieldsync/internal/syncer"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
	"github.com/tractorcare/fieldsync/internal/trend"
)

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	store       pending.Store
	ledger      *ledger.Ledger
	coordinator *syncer.Coordinator
	aggregator  *trend.Aggregator
	monitor     *connectivity.Monitor
	bus         *events.Bus
	cfg         ServerConfig
	logger      Logger
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type Deps struct {
	Store       pending.Store
	Ledger      *ledger.Ledger
	Coordinator *syncer.Coordinator
	Aggregator  *trend.Aggregator
	Monitor     *connectivity.Monitor
	Bus         *events.Bus
	Logger      Logger
}

func NewServer(deps Deps) *Server {
	return NewServerWithConfig(deps, ServerConfig{})
}

func NewServerWithConfig(deps Deps, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       deps.Store,
		ledger:      deps.Ledger,
		coordinator: deps.Coordinator,
		aggregator:  deps.Aggregator,
		monitor:     deps.Monitor,
		bus:         deps.Bus,
		cfg:         cfg,
		logger:      deps.Logger,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(r.RemoteAddr, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", correlationID)
		return
	}
	if r.URL.Path == "/v1/status" && r.Method == http.MethodGet {
		s.handleStatusPage(w, r)
		return
	}
	if r.URL.Path == "/v1/events" && r.Method == http.MethodGet {
		s.handleEvents(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "tractors" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	tractorID := strings.TrimSpace(parts[2])
	if tractorID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tractor id is required", correlationID)
		return
	}

	switch {
	case len(parts) == 4 && parts[3] == "usage" && r.Method == http.MethodGet:
		s.handleUsage(w, r, tractorID, correlationID)
	case len(parts) == 5 && parts[3] == "usage" && parts[4] == "log" && r.Method == http.MethodPost:
		s.handleLogUsage(w, r, tractorID, correlationID)
	case len(parts) == 4 && parts[3] == "pending" && r.Method == http.MethodGet:
		s.handlePending(w, tractorID, correlationID)
	case len(parts) == 4 && parts[3] == "pending" && r.Method == http.MethodDelete:
		s.handleClearPending(w, r, tractorID, correlationID)
	case len(parts) == 4 && parts[3] == "sync" && r.Method == http.MethodPost:
		s.handleSyncNow(w, r, tractorID, correlationID)
	case len(parts) == 4 && parts[3] == "trend" && r.Method == http.MethodGet:
		s.handleTrend(w, r, tractorID, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, tractorID, correlationID string) {
	records, err := s.ledger.Records(r.Context(), tractorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to read usage ledger", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tractor_id": tractorID,
		"records":    records,
	})
}

type logUsageRequest struct {
	EndHours *float64 `json:"end_hours"`
	Notes    string   `json:"notes"`
}

func (s *Server) handleLogUsage(w http.ResponseWriter, r *http.Request, tractorID, correlationID string) {
	var req logUsageRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if req.EndHours == nil || *req.EndHours < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "end_hours must be a non-negative number", correlationID)
		return
	}
	entry, err := s.store.Enqueue(tractorID, *req.EndHours, req.Notes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to enqueue entry", correlationID)
		return
	}
	// Optimistic append: the entry is durable now; submission happens on its
	// own goroutine and a failure leaves it queued.
	if s.coordinator != nil {
		go s.coordinator.Sync(context.Background())
	}
	writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) handlePending(w http.ResponseWriter, tractorID, correlationID string) {
	entries, err := s.store.List(tractorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list pending entries", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tractor_id": tractorID,
		"count":      len(entries),
		"entries":    entries,
	})
}

// Clearing the queue discards unsynced work, so it demands explicit
// confirmation and is never triggered automatically.
func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request, tractorID, correlationID string) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "confirmation_required", "pass confirm=true to discard queued entries", correlationID)
		return
	}
	removed, err := s.store.ClearAll(tractorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to clear pending entries", correlationID)
		return
	}
	s.logf("cleared %d pending entries for %s", removed, tractorID)
	writeJSON(w, http.StatusOK, map[string]any{
		"tractor_id": tractorID,
		"removed":    removed,
	})
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request, tractorID, correlationID string) {
	result := s.coordinator.Sync(r.Context())
	remaining, err := s.store.Count(tractorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to count pending entries", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tractor_id":        tractorID,
		"synced":            result.Synced,
		"remaining":         result.Remaining,
		"all_cleared":       result.AllCleared,
		"hours_used":        result.HoursUsed,
		"tractor_remaining": remaining,
	})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request, tractorID, correlationID string) {
	result, err := s.aggregator.Aggregate(r.Context(), tractorID)
	if err != nil {
		switch {
		case errors.Is(err, tractorcare.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, "timeout", "prediction service timed out; check your connection and retry", correlationID)
		case errors.Is(err, tractorcare.ErrUnreachable):
			writeError(w, http.StatusBadGateway, "unreachable", "prediction service is unreachable", correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal", "failed to build deviation trend", correlationID)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tractor_id":     tractorID,
		"points":         result.Points,
		"stats":          result.Stats,
		"reference_date": result.ReferenceDate,
		"baseline_tier":  string(result.Baseline.Tier),
	})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
