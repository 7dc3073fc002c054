package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/services"
)

// keepaliveInterval paces the SSE comment frames that keep proxies from
// closing idle event streams.
const keepaliveInterval = 15 * time.Second

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	keepalive time.Duration

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:      bind,
		logger:    logger,
		daemon:    d,
		keepalive: keepaliveInterval,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleStartJob)
	mux.HandleFunc("POST /api/jobs/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobDetail)
	mux.HandleFunc("GET /api/books", s.handleBooks)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/estimate", s.handleEstimate)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.Handle("GET /covers/", http.StripPrefix("/covers/", http.FileServer(coverDir(cfg.Paths.CoversDir))))
	return requestIDMiddleware(authMiddleware(cfg.Paths.APIToken, mux))
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.log(), "api server error", "api_serve_failed", logging.Error(err))
		}
	}()

	s.log().Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			// Event streams hold connections open; force them closed.
			_ = s.server.Close()
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseJobsQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.daemon.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *apiServer) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, r, services.Detailed(services.ErrValidation, "invalid JSON body: %v", err))
		return
	}
	result, err := s.daemon.StartJob(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if result.JobID == nil {
		status = http.StatusOK
	}
	s.writeJSON(w, status, result)
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	message, err := s.daemon.CancelJob()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func (s *apiServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, services.Detailed(services.ErrValidation, "invalid job id"))
		return
	}
	detail, err := s.daemon.JobDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.daemon.ListBooks(r.Context(), r.URL.Query()["status"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"books": books})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleEstimate(w http.ResponseWriter, r *http.Request) {
	minutes, err := parseEstimateQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.daemon.Estimate(minutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleEvents streams announcer frames until the client leaves or is
// dropped for falling behind.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New("streaming unsupported"))
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	listener := s.daemon.announcer.Listen()
	defer s.daemon.announcer.Unlisten(listener)

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-listener.Frames():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type logsResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query, err := parseLogsQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, logsResponse{Events: []logging.LogEvent{}})
		return
	}

	var (
		events []logging.LogEvent
		next   uint64
	)
	if query.Tail && query.Since == 0 && !query.Follow {
		events, next = hub.Tail(query.Limit)
	} else {
		if query.Follow {
			_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		}
		events, next, err = hub.Fetch(r.Context(), query.Since, query.Limit, query.Follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, r, err)
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if query.JobID != 0 && evt.JobID != query.JobID {
			continue
		}
		if query.ASIN != "" && !strings.EqualFold(evt.ASIN, query.ASIN) {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, logsResponse{Events: filtered, Next: next})
}

// statusForError maps error kinds to HTTP status codes.
func statusForError(err error) int {
	switch services.KindOf(err) {
	case "conflict":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "validation", "configuration":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	kind := services.KindOf(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.log()), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, kind),
		)
	}
	s.writeJSON(w, status, map[string]string{"error": services.Message(err), "kind": kind})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}

// coverDir serves thumbnails without directory listings.
type coverDir string

func (d coverDir) Open(name string) (http.File, error) {
	f, err := http.Dir(d).Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
