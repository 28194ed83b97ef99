// Package webui provides the HTTP and WebSocket front end for monitoring
// and driving generation sessions.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codecrew/pkg/config"
	"codecrew/pkg/events"
	"codecrew/pkg/logx"
	"codecrew/pkg/metrics"
	"codecrew/pkg/orch"
	"codecrew/pkg/persistence"
	"codecrew/pkg/proto"
	"codecrew/pkg/session"
	"codecrew/pkg/version"
)

// Server represents the web HTTP server.
type Server struct {
	service  *orch.Service
	registry *session.Registry
	emitter  *events.Emitter
	store    *persistence.SessionStore
	usage    *metrics.QueryService
	authUser string
	logger   *logx.Logger
}

// SessionListItem represents a session in the list response.
type SessionListItem struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Prompt    string    `json:"prompt"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// NewServer creates a new web server. store may be nil when persistence
// is disabled.
func NewServer(service *orch.Service, registry *session.Registry, emitter *events.Emitter, store *persistence.SessionStore, cfg config.WebConfig) *Server {
	s := &Server{
		service:  service,
		registry: registry,
		emitter:  emitter,
		store:    store,
		authUser: cfg.AuthUser,
		logger:   logx.NewLogger("webui"),
	}
	if cfg.PrometheusURL != "" {
		usage, err := metrics.NewQueryService(cfg.PrometheusURL)
		if err != nil {
			s.logger.Warn("usage queries disabled, bad prometheus_url %q: %v", cfg.PrometheusURL, err)
		} else {
			s.usage = usage
		}
	}
	return s
}

// requireAuth wraps an HTTP handler with Basic Authentication. The
// password comes from the secrets file or environment; an empty
// configured username disables auth entirely.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authUser == "" {
			next(w, r)
			return
		}

		expectedPassword := config.GetServicePassword()
		if expectedPassword == "" {
			s.logger.Error("service password not set, denying access")
			w.Header().Set("WWW-Authenticate", `Basic realm="codecrew"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="codecrew"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if username != s.authUser || password != expectedPassword {
			s.logger.Warn("failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			w.Header().Set("WWW-Authenticate", `Basic realm="codecrew"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/generate", s.requireAuth(s.handleGenerate))
	mux.HandleFunc("/api/sessions", s.requireAuth(s.handleSessions))
	mux.HandleFunc("/api/sessions/", s.requireAuth(s.handleSession))
	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))

	mux.HandleFunc("/ws", s.requireAuth(s.handleWebSocket))
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleGenerate implements POST /api/generate. The body carries the
// prompt and an optional model override.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.service.StartGeneration(r.Context(), req.Prompt, req.Model)
	if err != nil {
		s.logger.Error("failed to start generation: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{
		"session_id": sess.ID(),
		"stage":      sess.Stage().String(),
	})
}

// handleSessions implements GET /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items := make([]SessionListItem, 0)
	for _, sess := range s.registry.All() {
		items = append(items, SessionListItem{
			ID:        sess.ID(),
			Stage:     sess.Stage().String(),
			Prompt:    sess.OriginalPrompt(),
			Attempt:   sess.Attempt(),
			CreatedAt: sess.CreatedAt(),
		})
	}

	// Newest first for display.
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	s.writeJSON(w, items)
}

// handleSession routes /api/sessions/{id} and its subresources:
//
//	GET    /api/sessions/{id}           session detail
//	DELETE /api/sessions/{id}           discard a terminal session
//	GET    /api/sessions/{id}/events    event history, ?after=N for replay
//	GET    /api/sessions/{id}/versions  recorded code versions
//	POST   /api/sessions/{id}/continue  resolve the checkpoint
//	POST   /api/sessions/{id}/refine    ask for another refinement
//	POST   /api/sessions/{id}/stop      request cancellation
//	GET    /api/sessions/{id}/usage     token and cost totals from Prometheus
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	switch action {
	case "":
		if r.Method == http.MethodDelete {
			s.handleSessionRemove(w, id)
			return
		}
		s.handleSessionDetail(w, r, id)
	case "events":
		s.handleSessionEvents(w, r, id)
	case "versions":
		s.handleSessionVersions(w, r, id)
	case "continue":
		s.handleSessionContinue(w, r, id)
	case "refine":
		s.handleSessionRefine(w, r, id)
	case "stop":
		s.handleSessionStop(w, r, id)
	case "usage":
		s.handleSessionUsage(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.registry.Get(id)
	if err != nil {
		// Fall back to persisted snapshots for evicted sessions.
		if s.store != nil {
			if rec, storeErr := s.store.GetSession(id); storeErr == nil {
				s.writeJSON(w, rec)
				return
			}
		}
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	response := map[string]any{
		"id":              sess.ID(),
		"stage":           sess.Stage().String(),
		"original_prompt": sess.OriginalPrompt(),
		"refined_prompt":  sess.RefinedPrompt(),
		"active_prompt":   sess.ActivePrompt(),
		"choice":          sess.Choice().String(),
		"attempt":         sess.Attempt(),
		"created_at":      sess.CreatedAt(),
	}
	if latest, ok := sess.Ledger().Latest(); ok {
		response["latest_code"] = latest.Code
	}
	s.writeJSON(w, response)
}

func (s *Server) handleSessionRemove(w http.ResponseWriter, id string) {
	if err := s.registry.Remove(id); err != nil {
		s.writeCommandError(w, err)
		return
	}
	// The id is never reused, so its sequence state can go too.
	s.emitter.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &after); err != nil {
			http.Error(w, "Invalid after parameter", http.StatusBadRequest)
			return
		}
	}

	history := s.emitter.History(id, after)
	if history == nil {
		history = []*proto.Event{}
	}
	s.writeJSON(w, history)
}

func (s *Server) handleSessionVersions(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if sess, err := s.registry.Get(id); err == nil {
		s.writeJSON(w, sess.Ledger().All())
		return
	}
	if s.store != nil {
		if versions, err := s.store.GetVersions(id); err == nil {
			s.writeJSON(w, versions)
			return
		}
	}
	http.Error(w, "Session not found", http.StatusNotFound)
}

func (s *Server) handleSessionContinue(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UseRefined bool `json:"use_refined"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.service.ContinueGeneration(id, req.UseRefined); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "accepted"})
}

func (s *Server) handleSessionRefine(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.service.RefineAgain(id); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "accepted"})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.service.StopGeneration(id); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "accepted"})
}

// handleSessionUsage serves per-session token and cost totals from the
// configured Prometheus backend, optionally broken down with ?by_model=1.
func (s *Server) handleSessionUsage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.usage == nil {
		http.Error(w, "Metrics backend not configured", http.StatusServiceUnavailable)
		return
	}

	if r.URL.Query().Get("by_model") != "" {
		byModel, err := s.usage.GetSessionMetricsByModel(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.writeJSON(w, byModel)
		return
	}

	usage, err := s.usage.GetSessionMetrics(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, usage)
}

// handleLogs implements GET /api/logs with optional component and since
// filters.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	component := query.Get("component")

	var since time.Time
	if sinceStr := query.Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	entries := logx.RecentEntries(component, since)
	if entries == nil {
		entries = []logx.LogEntry{}
	}
	s.writeJSON(w, entries)
}

func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	if errors.Is(err, session.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

// Start starts the HTTP server on addr and shuts it down when ctx is
// cancelled. Non-blocking.
func (s *Server) Start(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting web server on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // Parent context is cancelled; shutdown needs a fresh one
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed: %v", err)
		}
	}()
}
