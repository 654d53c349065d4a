package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vjranagit/tempomatch/pkg/matching"
	"github.com/vjranagit/tempomatch/pkg/seriesio"
	"github.com/vjranagit/tempomatch/pkg/service"
	"github.com/vjranagit/tempomatch/pkg/storage"
	"github.com/vjranagit/tempomatch/pkg/types"
)

// Server implements the HTTP API server
type Server struct {
	svc     *service.Service
	addr    string
	timeout time.Duration
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, timeout time.Duration, svc *service.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:     svc,
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/write", s.handleWrite)
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/match", s.handleMatch)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)

	return mux
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func tenantOf(r *http.Request) string {
	if tenantID := r.Header.Get("X-Tenant-ID"); tenantID != "" {
		return tenantID
	}
	return "default"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrSeriesNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, matching.ErrEmptyInput),
		errors.Is(err, matching.ErrUnsorted),
		errors.Is(err, matching.ErrTimezoneMismatch),
		errors.Is(err, matching.ErrInvalidWindow),
		errors.Is(err, storage.ErrAmbiguousSelector),
		errors.Is(err, storage.ErrZoneConflict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleWrite handles write requests
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	req := &types.WriteRequest{
		TenantID: tenantOf(r),
		Series:   make([]types.Series, len(body.Series)),
	}
	for i, ws := range body.Series {
		series, err := ws.toSeries()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.Series[i] = series
	}

	if err := s.svc.Write(r.Context(), req); err != nil {
		s.logger.Error("write failed", zap.String("tenant", req.TenantID), zap.Error(err))
		s.writeError(w, statusFor(err), fmt.Errorf("write failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleQuery handles raw sample queries
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing query parameter"))
		return
	}

	req := &types.QueryRequest{
		TenantID: tenantOf(r),
		Query:    query,
	}

	var err error
	if start := r.URL.Query().Get("start"); start != "" {
		if req.StartTime, _, err = seriesio.ParseTimestamp(start); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid start time: %w", err))
			return
		}
	}
	if end := r.URL.Query().Get("end"); end != "" {
		if req.EndTime, _, err = seriesio.ParseTimestamp(end); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid end time: %w", err))
			return
		}
	}

	result, err := s.svc.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("query failed: %w", err))
		return
	}

	series := make([]querySeries, len(result.Series))
	for i, rs := range result.Series {
		series[i] = toQuerySeries(rs)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"series": series})
}

// handleMatch aligns stored series
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body matchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	req, err := body.toRequest(tenantOf(r))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := s.svc.Match(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("match failed", zap.String("anchor", req.Anchor), zap.Error(err))
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toMatchResponse(outcome))
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleMetrics exports service counters in Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.svc.Metrics()
	st := s.svc.Stats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# TYPE tempomatch_matches_total counter\ntempomatch_matches_total %d\n", m.Matches)
	fmt.Fprintf(w, "# TYPE tempomatch_match_failures_total counter\ntempomatch_match_failures_total %d\n", m.Failures)
	fmt.Fprintf(w, "# TYPE tempomatch_writes_total counter\ntempomatch_writes_total %d\n", m.Writes)
	fmt.Fprintf(w, "# TYPE tempomatch_cache_hits_total counter\ntempomatch_cache_hits_total %d\n", m.CacheHits)
	fmt.Fprintf(w, "# TYPE tempomatch_cache_misses_total counter\ntempomatch_cache_misses_total %d\n", m.CacheMisses)
	fmt.Fprintf(w, "# TYPE tempomatch_series gauge\ntempomatch_series %d\n", st.Series)
	fmt.Fprintf(w, "# TYPE tempomatch_samples gauge\ntempomatch_samples %d\n", st.Samples)
}
