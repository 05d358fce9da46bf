// Package api exposes the read-only HTTP status surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/metrics"
	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
)

const (
	activityLimit   = 20
	screenshotLimit = 8
	rankingLimit    = 10
	changesWindow   = 7 * 24 * time.Hour
)

// NextRunner reports when a scheduled job fires next.
type NextRunner interface {
	NextRun(name string) time.Time
}

// Config carries the static facts the handlers report.
type Config struct {
	BrandID      string
	Competitors  []monitor.CompetitorProfile
	Keywords     []string
	EmailEnabled bool
}

// Server wires the status handlers to the snapshot store. Every handler is
// a pure read; none triggers a scan.
type Server struct {
	router    chi.Router
	snapshots *snapshot.Store
	sched     NextRunner
	clock     monitor.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. sched may be
// nil when no scheduler is running.
func NewServer(
	snapshots *snapshot.Store,
	sched NextRunner,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		snapshots: snapshots,
		sched:     sched,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/competitors", s.getCompetitors)
		r.Get("/rankings", s.getRankings)
		r.Get("/activity", s.getActivity)
		r.Get("/screenshots", s.getScreenshots)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Status      string  `json:"status"`
	LastCheck   *string `json:"lastCheck"`
	NextCheck   *string `json:"nextCheck"`
	Competitors int     `json:"competitors"`
	Keywords    int     `json:"keywords"`
	AlertsToday int     `json:"alertsToday"`
	EmailStatus string  `json:"emailStatus"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()

	resp := statusResponse{
		Status:      "ok",
		Competitors: len(s.cfg.Competitors),
		Keywords:    len(s.cfg.Keywords),
		EmailStatus: "disabled",
	}
	if s.cfg.EmailEnabled {
		resp.EmailStatus = "enabled"
	}

	last, err := s.snapshots.LastRun(r.Context(), "competitor_scan")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read last run failed")
		return
	}
	if !last.IsZero() {
		resp.LastCheck = timePtr(last)
	}
	if s.sched != nil {
		if next := s.sched.NextRun("competitor_scan"); !next.IsZero() {
			resp.NextCheck = timePtr(next)
		}
	}

	alerts, err := s.snapshots.AlertsForDay(r.Context(), now)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read alert history failed")
		return
	}
	resp.AlertsToday = len(alerts)

	s.writeJSON(w, http.StatusOK, resp)
}

type competitorResponse struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	LastCheck *string                  `json:"lastCheck"`
	Changes   []monitor.ChangeEvent    `json:"changes"`
	Data      *monitor.MetricsSnapshot `json:"data"`
}

func (s *Server) getCompetitors(w http.ResponseWriter, r *http.Request) {
	since := s.clock.Now().Add(-changesWindow)
	changes, err := s.snapshots.ChangesSince(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read change log failed")
		return
	}
	byCompetitor := make(map[string][]monitor.ChangeEvent)
	for _, event := range changes {
		byCompetitor[event.CompetitorID] = append(byCompetitor[event.CompetitorID], event)
	}

	out := make([]competitorResponse, 0, len(s.cfg.Competitors))
	for _, profile := range s.cfg.Competitors {
		entry := competitorResponse{
			ID:      profile.ID,
			Name:    profile.Name,
			Changes: []monitor.ChangeEvent{},
		}
		if events, ok := byCompetitor[profile.ID]; ok {
			entry.Changes = events
		}
		snap, err := s.snapshots.CurrentSnapshot(r.Context(), profile.ID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "read snapshot failed")
			return
		}
		if snap != nil {
			entry.Data = snap
			entry.LastCheck = timePtr(snap.CapturedAt)
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, out)
}

type rankingResponse struct {
	Keyword       string `json:"keyword"`
	WeoPosition   int    `json:"weoPosition"`
	TopCompetitor string `json:"topCompetitor"`
	LastCheck     string `json:"lastCheck"`
}

func (s *Server) getRankings(w http.ResponseWriter, r *http.Request) {
	records, err := s.snapshots.LatestRankings(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read rankings failed")
		return
	}
	if len(records) > rankingLimit {
		records = records[:rankingLimit]
	}

	out := make([]rankingResponse, 0, len(records))
	for _, record := range records {
		entry := rankingResponse{
			Keyword:     record.Keyword,
			WeoPosition: record.Positions[s.cfg.BrandID],
			LastCheck:   record.Date,
		}
		if len(record.TopCompetitors) > 0 {
			entry.TopCompetitor = record.TopCompetitors[0].Name
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.snapshots.RecentActivity(r.Context(), activityLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read activity failed")
		return
	}
	if entries == nil {
		entries = []monitor.ActivityEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type screenshotResponse struct {
	Filename   string `json:"filename"`
	Competitor string `json:"competitor"`
	Page       string `json:"page"`
	Timestamp  string `json:"timestamp"`
}

func (s *Server) getScreenshots(w http.ResponseWriter, r *http.Request) {
	refs, err := s.snapshots.RecentScreenshots(r.Context(), screenshotLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read screenshots failed")
		return
	}
	out := make([]screenshotResponse, 0, len(refs))
	for _, ref := range refs {
		out = append(out, screenshotResponse{
			Filename:   ref.Filename,
			Competitor: ref.Competitor,
			Page:       ref.Page,
			Timestamp:  ref.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware opens the read-only surface to any origin. Only GET and
// OPTIONS ever pass; everything else falls through to MethodNotAllowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func timePtr(t time.Time) *string {
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
