// Package api serves the collector's HTTP interface: JSON status and
// history, the reset trigger, reading charts and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/lightswarm/internal/collector"
	"github.com/banshee-data/lightswarm/internal/httputil"
	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/store"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultLimit = 500
	maxLimit     = 10000
)

// Collector is the part of *collector.Collector the API uses.
type Collector interface {
	Status() collector.Status
	TriggerReset(ctx context.Context) error
}

// History is the part of *store.Store the API uses.
type History interface {
	Readings(ctx context.Context, limit int) ([]store.Reading, error)
	Events(ctx context.Context, limit int) ([]store.Event, error)
	Sessions(ctx context.Context) ([]store.Session, error)
}

type Server struct {
	col     Collector
	history History
}

func NewServer(col Collector, history History) *Server {
	return &Server{col: col, history: history}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of every request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the collector routes. Debug routes are attached separately.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/reset", s.triggerReset)
	mux.HandleFunc("/charts/readings", s.readingsChart)
	mux.HandleFunc("/charts/readings.png", s.readingsPNG)
	mux.Handle("/metrics", monitoring.MetricsHandler())
	return mux
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.col.Status())
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	readings, err := s.history.Readings(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	if readings == nil {
		readings = []store.Reading{}
	}
	httputil.WriteJSON(w, http.StatusOK, readings)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.history.Events(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	sessions, err := s.history.Sessions(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

func (s *Server) triggerReset(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	err := s.col.TriggerReset(r.Context())
	switch {
	case errors.Is(err, collector.ErrResetInProgress):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		// The local reset went ahead; only the broadcast failed.
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	st := s.col.Status()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"session":     st.Session,
		"reset_until": st.ResetUntil,
	})
}
