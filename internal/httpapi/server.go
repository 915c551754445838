// Package httpapi provides the REST control surface: status, manual sync
// triggers, the scheduled-sync toggle, run history, and a health check.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/calmirror/calmirror/internal/history"
	"github.com/calmirror/calmirror/internal/status"
	"github.com/calmirror/calmirror/internal/sync"
)

// Syncer starts out-of-band cycles. Implemented by [sync.Engine].
type Syncer interface {
	TriggerManual(force bool) error
}

// HistoryReader serves recorded runs. Implemented by [history.Store]; may be
// nil when run history is disabled.
type HistoryReader interface {
	RecentRuns(ctx context.Context, limit int) ([]*history.Run, error)
}

// Server is the control-surface HTTP server.
type Server struct {
	addr    string
	tracker *status.Tracker
	syncer  Syncer
	runs    HistoryReader
	log     *slog.Logger
}

// NewServer creates a Server listening on addr. runs may be nil.
func NewServer(addr string, tracker *status.Tracker, syncer Syncer, runs HistoryReader, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		tracker: tracker,
		syncer:  syncer,
		runs:    runs,
		log:     logger.With("component", "httpapi"),
	}
}

// Router builds the API router with all routes and middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogging(s.log))
	r.Use(recoverPanics(s.log))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/sync", s.handleTriggerSync).Methods("POST")
	api.HandleFunc("/enabled", s.handleSetEnabled).Methods("PUT")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control surface listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

// handleTriggerSync starts a manual cycle. The cycle runs in the background;
// 202 means it started, 409 means another cycle holds the lock.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	err := s.syncer.TriggerManual(force)
	if errors.Is(err, sync.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "starting sync failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "force": force})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}

	s.tracker.SetSyncEnabled(*body.Enabled)
	s.log.Info("scheduled sync toggled", "enabled", *body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	if s.runs == nil {
		writeJSON(w, http.StatusOK, []*history.Run{})
		return
	}

	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("reading run history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading run history failed")
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
