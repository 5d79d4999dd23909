// Package daemon exposes the loopback HTTP API through which the browser
// extension delivers navigation events, and runs the periodic idle check
// alongside it. Delivery is best-effort: accepted events answer 202 and
// storage problems stay in the logs, never in the response.
package daemon

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

	"go.uber.org/zap"

	"github.com/runnerr0/trailgraph/internal/config"
	"github.com/runnerr0/trailgraph/internal/session"
	"github.com/runnerr0/trailgraph/internal/storage"
	"github.com/runnerr0/trailgraph/internal/tracker"
)

// Server is the local ingest daemon.
type Server struct {
	cfg      config.DaemonConfig
	track    *tracker.Tracker
	sessions *session.Manager
	store    *storage.Store
	logger   *zap.Logger

	httpServer *http.Server
	idleEvery  time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New creates a daemon server. idleEvery controls how often the session
// idle check runs.
func New(cfg config.DaemonConfig, track *tracker.Tracker, sessions *session.Manager, store *storage.Store, idleEvery time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idleEvery <= 0 {
		idleEvery = time.Minute
	}
	s := &Server{
		cfg:       cfg,
		track:     track,
		sessions:  sessions,
		store:     store,
		logger:    logger,
		idleEvery: idleEvery,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.idleLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		close(s.stopCh)
		<-s.doneCh
		return fmt.Errorf("daemon: %w", err)
	case <-ctx.Done():
	}

	close(s.stopCh)
	<-s.doneCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// idleLoop periodically expires idle sessions and clears tab state when
// one ends.
func (s *Server) idleLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.idleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sessions.CheckIdle(ctx) {
				s.track.ClearTabs()
				s.logger.Info("idle session expired, tab state cleared")
			}
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/nav/committed", s.withAuth(s.handleCommitted))
	mux.HandleFunc("POST /v1/nav/created-target", s.withAuth(s.handleCreatedTarget))
	mux.HandleFunc("POST /v1/nav/tab-removed", s.withAuth(s.handleTabRemoved))
	mux.HandleFunc("POST /v1/activity", s.withAuth(s.handleActivity))
	mux.HandleFunc("POST /v1/search-click", s.withAuth(s.handleSearchClick))
	return mux
}

// withAuth enforces the shared bearer token when one is configured.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.AuthToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// decode reads a bounded JSON body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	limit := int64(s.cfg.MaxRequestSize)
	if limit <= 0 {
		limit = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// accepted answers every state-changing endpoint. The extension never
// retries on our behalf.
func accepted(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"session": s.sessions.Current(),
	})
}

type committedRequest struct {
	TabID                int64    `json:"tab_id"`
	URL                  string   `json:"url"`
	Title                string   `json:"title"`
	TimestampMS          int64    `json:"timestamp_ms"`
	IsMainFrame          bool     `json:"is_main_frame"`
	TransitionQualifiers []string `json:"transition_qualifiers"`
}

func (s *Server) handleCommitted(w http.ResponseWriter, r *http.Request) {
	var req committedRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.track.OnCommitted(r.Context(), req.TabID, req.URL, req.Title,
		fromMillis(req.TimestampMS), req.IsMainFrame, req.TransitionQualifiers)
	accepted(w)
}

type createdTargetRequest struct {
	SourceTabID int64  `json:"source_tab_id"`
	NewTabID    int64  `json:"new_tab_id"`
	URL         string `json:"url"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func (s *Server) handleCreatedTarget(w http.ResponseWriter, r *http.Request) {
	var req createdTargetRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.track.OnCreatedNavigationTarget(r.Context(), req.SourceTabID, req.NewTabID,
		req.URL, fromMillis(req.TimestampMS))
	accepted(w)
}

type tabRemovedRequest struct {
	TabID       int64 `json:"tab_id"`
	TimestampMS int64 `json:"timestamp_ms"`
}

func (s *Server) handleTabRemoved(w http.ResponseWriter, r *http.Request) {
	var req tabRemovedRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.track.OnTabRemoved(r.Context(), req.TabID, fromMillis(req.TimestampMS))
	accepted(w)
}

type activityRequest struct {
	TabID   int64 `json:"tab_id"`
	Seconds int64 `json:"seconds"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.track.RecordActiveTime(r.Context(), req.TabID, req.Seconds)
	accepted(w)
}

type searchClickRequest struct {
	Query       string `json:"query"`
	URL         string `json:"url"`
	Position    int    `json:"position"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func (s *Server) handleSearchClick(w http.ResponseWriter, r *http.Request) {
	var req searchClickRequest
	if !s.decode(w, r, &req) {
		return
	}

	data, err := json.Marshal(map[string]any{
		"query":    req.Query,
		"url":      req.URL,
		"position": req.Position,
	})
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	err = s.store.AppendEvent(r.Context(), &storage.Event{
		Operation: storage.OpSearchClick,
		SessionID: s.sessions.Current(),
		Timestamp: fromMillis(req.TimestampMS),
		Data:      string(data),
	})
	if err != nil {
		s.logger.Error("recording search click failed", zap.Error(err))
	}
	accepted(w)
}

// fromMillis converts an extension timestamp; zero means "now".
func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
