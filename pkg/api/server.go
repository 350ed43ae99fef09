package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/triage/pkg/ledger"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
)

// Ledger is the slice of the remediation ledger the API exposes
type Ledger interface {
	Attempts(f ledger.Filter) []types.Attempt
	Escalations() []types.Escalation
	ClearEscalation(workload types.WorkloadRef, category types.Category) error
	Stats() ledger.Stats
}

// Server serves health, metrics, reports and ledger queries over HTTP
type Server struct {
	ledger  Ledger
	reports *ReportCache
	mux     *http.ServeMux
	http    *http.Server
	logger  zerolog.Logger
}

// NewServer creates the HTTP API
func NewServer(l Ledger, reports *ReportCache) *Server {
	mux := http.NewServeMux()
	s := &Server{
		ledger:  l,
		reports: reports,
		mux:     mux,
		logger:  log.WithComponent("api"),
	}
	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/reports", s.listReports)
	mux.HandleFunc("GET /api/v1/reports/{namespace}", s.getReport)
	mux.HandleFunc("GET /api/v1/attempts", s.listAttempts)
	mux.HandleFunc("GET /api/v1/ledger/stats", s.ledgerStats)
	mux.HandleFunc("GET /api/v1/escalations", s.listEscalations)
	mux.HandleFunc("DELETE /api/v1/escalations", s.clearEscalation)

	return s
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ErrorResponse is the body of every non-2xx API reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reports.List())
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	report, ok := s.reports.Get(ns)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no report for namespace %q yet", ns))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attempts := s.ledger.Attempts(f)
	if attempts == nil {
		attempts = []types.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) ledgerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Stats())
}

func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Escalations())
}

// clearEscalation is the manual release of a latched pair:
// DELETE /api/v1/escalations?workload=ns/name&category=CrashLoopBackOff
func (s *Server) clearEscalation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, err := ParseWorkload(q.Get("workload"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	category := types.Category(q.Get("category"))
	if category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	if err := s.ledger.ClearEscalation(ref, category); err != nil {
		if errors.Is(err, ledger.ErrNoEscalation) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("workload", ref.String()).Msg("Failed to clear escalation")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info().
		Str("workload", ref.String()).
		Str("category", string(category)).
		Str("remote", r.RemoteAddr).
		Msg("Escalation cleared by operator")
	w.WriteHeader(http.StatusNoContent)
}

// ParseWorkload parses namespace/name into a workload reference
func ParseWorkload(s string) (types.WorkloadRef, error) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" || strings.Contains(name, "/") {
		return types.WorkloadRef{}, fmt.Errorf("workload must be namespace/name, got %q", s)
	}
	return types.WorkloadRef{Namespace: ns, Name: name}, nil
}

func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		Namespace: q.Get("namespace"),
		Workload:  q.Get("workload"),
		Outcome:   types.Outcome(q.Get("outcome")),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be RFC3339: %w", err)
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer, got %q", v)
		}
		f.Limit = limit
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
