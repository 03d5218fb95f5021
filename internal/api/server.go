// Package api serves live stream snapshots, session history and recording
// control over HTTP.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/cardio.report/internal/db"
	"github.com/banshee-data/cardio.report/internal/httputil"
	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/store"
	"github.com/banshee-data/cardio.report/internal/stream"
	"github.com/banshee-data/cardio.report/internal/units"
	"github.com/banshee-data/cardio.report/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

var logf = monitoring.Prefixed("api")

// Source is the read side of a live session. *monitor.Consumer implements
// it.
type Source interface {
	Snapshot(id string) (*store.Snapshot, bool)
	Snapshots() []*store.Snapshot
	Recording() stream.RecordingUpdate
	ActivateTab(i int) error
	ActiveTab() (int, string, bool)
}

// Commander accepts router commands. *stream.Router implements it.
type Commander interface {
	Submit(ctx context.Context, cmd stream.Command) (uint64, error)
	Recording() stream.RecordingState
}

// Options configures a Server. DB, Hub and Gatherer are optional; routes
// that need them answer 503 when they are missing.
type Options struct {
	DB           *db.DB
	Hub          *Hub
	Gatherer     prometheus.Gatherer
	RecordingDir string
	Units        string
	// SubmitTimeout bounds how long a request waits for command queue room.
	SubmitTimeout time.Duration
}

type Server struct {
	src  Source
	cmd  Commander
	opts Options
}

func NewServer(src Source, cmd Commander, opts Options) (*Server, error) {
	if opts.Units == "" {
		opts.Units = units.Seconds
	}
	if !units.IsValid(opts.Units) {
		return nil, fmt.Errorf("%w: invalid units %q, want one of %s",
			physio.ErrConfiguration, opts.Units, units.GetValidUnitsString())
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 2 * time.Second
	}
	return &Server{src: src, cmd: cmd, opts: opts}, nil
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

func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

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

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/streams", s.listStreams)
	mux.HandleFunc("GET /api/streams/{id}", s.showStream)
	mux.HandleFunc("GET /api/streams/{id}/snapshot", s.showSnapshot)
	mux.HandleFunc("GET /api/streams/{id}/psd", s.showPSD)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}/metrics", s.listSessionMetrics)
	mux.HandleFunc("GET /api/recording", s.showRecording)
	mux.HandleFunc("POST /api/recording", s.controlRecording)
	mux.HandleFunc("GET /api/tabs", s.showTab)
	mux.HandleFunc("POST /api/tabs/active", s.activateTab)
	if s.opts.Hub != nil {
		mux.Handle("GET /ws", s.opts.Hub)
	}
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// requestUnits resolves the ?units= override against the server default.
func (s *Server) requestUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.opts.Units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter, want one of %s", units.GetValidUnitsString())
	}
	return u, nil
}

func flatSnapshot(snap *store.Snapshot, target string) (map[string]any, error) {
	flat, err := snap.Flatten()
	if err != nil {
		return nil, err
	}
	return units.ConvertFlat(flat, target), nil
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"units":     s.opts.Units,
		"recording": s.opts.RecordingDir != "",
		"version":   version.String(),
	})
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	target, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snaps := s.src.Snapshots()
	out := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		flat, err := flatSnapshot(snap, target)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to flatten %s: %v", snap.Stream, err))
			return
		}
		out = append(out, flat)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*store.Snapshot, bool) {
	id := r.PathValue("id")
	snap, ok := s.src.Snapshot(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("Unknown stream %q", id))
	}
	return snap, ok
}

func (s *Server) showStream(w http.ResponseWriter, r *http.Request) {
	target, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	flat, err := flatSnapshot(snap, target)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to flatten %s: %v", snap.Stream, err))
		return
	}
	httputil.WriteJSONOK(w, flat)
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		httputil.WriteJSONOK(w, snap)
	}
}

func (s *Server) showPSD(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	if snap.PSDFigure == nil {
		msg := "No spectrum available"
		if reason, ok := snap.Failures[store.Frequency.String()]; ok {
			msg = fmt.Sprintf("No spectrum available: %s", reason)
		}
		httputil.NotFound(w, msg)
		return
	}
	httputil.WriteJSONOK(w, snap.PSDFigure)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Session catalog disabled")
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	sessions, err := s.opts.DB.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) listSessionMetrics(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Session catalog disabled")
		return
	}
	id := r.PathValue("id")
	if _, err := s.opts.DB.Session(id); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			httputil.NotFound(w, fmt.Sprintf("Unknown session %q", id))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve session: %v", err))
		return
	}
	records, err := s.opts.DB.Metrics(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve metrics: %v", err))
		return
	}
	if records == nil {
		records = []db.MetricsRecord{}
	}
	httputil.WriteJSONOK(w, records)
}
