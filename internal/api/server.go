// Package api exposes the pipeline's trigger surface over HTTP. Every
// mutating route is guarded by a static API key; responses carry the run
// counters so operators can script re-triggering against them.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pairscope/internal/analytics"
	"pairscope/internal/pipeline"
)

const apiKeyHeader = "X-API-Key"

// Runner is the pipeline boundary the server triggers.
type Runner interface {
	Sync(ctx context.Context, req pipeline.SyncRequest) (pipeline.Result, error)
	Discover(ctx context.Context, req pipeline.DiscoverRequest) (pipeline.Result, error)
}

// Snapshots is the analytics boundary the server triggers.
type Snapshots interface {
	Run(ctx context.Context, at time.Time) (analytics.RunStats, error)
}

// Defaults fill in tuning parameters a request leaves unset.
type Defaults struct {
	ChunkSize uint64
	BatchSize int
	Delay     time.Duration
}

// Server handles trigger requests.
type Server struct {
	apiKey    string
	defaults  Defaults
	runner    Runner
	snapshots Snapshots
	logger    *zap.Logger
}

func NewServer(apiKey string, defaults Defaults, runner Runner, snapshots Snapshots, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		apiKey:    apiKey,
		defaults:  defaults,
		runner:    runner,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Router builds the route tree. Health stays open; everything under /v1
// requires the API key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.requireAPIKey)
		v1.Post("/sync", s.handleSync)
		v1.Post("/discover", s.handleDiscover)
		v1.Post("/snapshot", s.handleSnapshot)
	})

	return r
}

type syncRequest struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
	HoursAgo  uint64 `json:"hoursAgo"`
	ChunkSize uint64 `json:"chunkSize"`
	DelayMs   *int64 `json:"delayMs"`
}

type discoverRequest struct {
	BatchSize int    `json:"batchSize"`
	DelayMs   *int64 `json:"delayMs"`
}

type runResponse struct {
	EventsFound int   `json:"eventsFound"`
	Processed   int   `json:"processed"`
	Skipped     int   `json:"skipped"`
	Failed      int   `json:"failed"`
	SyncRunID   int64 `json:"syncRunId"`
}

type snapshotResponse struct {
	Created int `json:"created"`
	Errors  int `json:"errors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.HoursAgo == 0 && req.FromBlock != 0 && req.ToBlock != 0 && req.FromBlock > req.ToBlock {
		writeError(w, http.StatusBadRequest, "fromBlock must not exceed toBlock")
		return
	}
	if req.DelayMs != nil && *req.DelayMs < 0 {
		writeError(w, http.StatusBadRequest, "delayMs must be non-negative")
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.defaults.ChunkSize
	}

	result, err := s.runner.Sync(r.Context(), pipeline.SyncRequest{
		FromBlock: req.FromBlock,
		ToBlock:   req.ToBlock,
		HoursAgo:  req.HoursAgo,
		ChunkSize: chunkSize,
		Delay:     s.delay(req.DelayMs),
		Source:    "api",
	})
	if err != nil {
		s.logger.Error("sync run failed", zap.Int64("run_id", result.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(result))
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BatchSize < 0 || (req.DelayMs != nil && *req.DelayMs < 0) {
		writeError(w, http.StatusBadRequest, "batchSize and delayMs must be non-negative")
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.defaults.BatchSize
	}

	result, err := s.runner.Discover(r.Context(), pipeline.DiscoverRequest{
		BatchSize: batchSize,
		Delay:     s.delay(req.DelayMs),
		Source:    "api",
	})
	if err != nil {
		s.logger.Error("discover run failed", zap.Int64("run_id", result.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(result))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	stats, err := s.snapshots.Run(r.Context(), time.Now().UTC().Truncate(time.Hour))
	if err != nil {
		s.logger.Error("snapshot run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Created: stats.Created, Errors: stats.Errors})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// delay maps the optional delayMs field to a pacing interval. An absent
// field takes the configured default; an explicit 0 disables pacing.
func (s *Server) delay(delayMs *int64) time.Duration {
	if delayMs == nil {
		return s.defaults.Delay
	}
	return time.Duration(*delayMs) * time.Millisecond
}

// decodeBody reads an optional JSON body; an empty body leaves the
// request zero-valued. Malformed JSON writes a 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	err := json.NewDecoder(r.Body).Decode(into)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "malformed request body")
	return false
}

func toRunResponse(result pipeline.Result) runResponse {
	return runResponse{
		EventsFound: result.Counters.EventsFound,
		Processed:   result.Counters.EventsProcessed,
		Skipped:     result.Counters.EventsSkipped,
		Failed:      result.Counters.EventsFailed,
		SyncRunID:   result.RunID,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
