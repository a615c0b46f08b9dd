// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/abracadabra-mc/abracadabra/hub/audit"
	"github.com/abracadabra-mc/abracadabra/hub/auth"
	"github.com/abracadabra-mc/abracadabra/hub/broker"
	"github.com/abracadabra-mc/abracadabra/hub/config"
	"github.com/abracadabra-mc/abracadabra/hub/registry"
	"github.com/abracadabra-mc/abracadabra/hub/session"
	"github.com/abracadabra-mc/abracadabra/hub/transport"
)

// Deps holds the components the API server fronts.
type Deps struct {
	Verifier  auth.Verifier
	Sessions  *session.Store
	Agents    *registry.Registry
	Broker    *broker.Broker
	Transport *transport.Adapter // nil leaves /ws/* unmounted
	Audit     audit.Store        // nil records nothing
}

// Server is the HTTP API server.
type Server struct {
	verifier     auth.Verifier
	sessions     *session.Store
	agents       *registry.Registry
	broker       *broker.Broker
	audit        audit.Store
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	loginRL      *rateLimiter
	rl           *rateLimiter
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	store := deps.Audit
	if store == nil {
		store = audit.Nop{}
	}
	srv := &Server{
		verifier:     deps.Verifier,
		sessions:     deps.Sessions,
		agents:       deps.Agents,
		broker:       deps.Broker,
		audit:        store,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		loginRL:      newRateLimiter(cfg.RateLimit.LoginRequestsPerSecond, cfg.RateLimit.LoginBurst),
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Route("/api", func(r chi.Router) {
		r.Use(ipRateLimitMiddleware(srv.rl, "too many requests"))

		r.With(ipRateLimitMiddleware(srv.loginRL, "too many login attempts")).Post("/authenticate", srv.handleAuthenticate)

		r.Get("/servers", srv.handleListServers)
		r.Get("/servers/{serverID}/players", srv.handleListPlayers)
		r.Post("/command", srv.handleCommand)
		r.Post("/select-player", srv.handleSelectPlayer)

		r.Get("/health", srv.handleHealth)
		r.Get("/readyz", srv.handleReadyz)

		r.With(srv.sessionMiddleware).Get("/audit", srv.handleListAudit)
	})

	// WebSocket routes (agents identify themselves in their first frame)
	if deps.Transport != nil {
		mux.Get("/ws/agent", deps.Transport.HandleRawWS)
		mux.Get("/ws/events", deps.Transport.HandleEventWS)
	}

	if dir := cfg.Server.UIStaticDir; dir != "" {
		mux.Handle("/*", staticUIHandler(dir))
	}

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.loginRL.StartCleanup(ctx, 5*time.Minute, 30*time.Minute)
	s.rl.StartCleanup(ctx, 5*time.Minute, 30*time.Minute)
}

// --- Auth handlers ---

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Message: "Invalid request body"})
		return
	}

	ip := clientIP(r)
	if !s.verifier.Verify(req.Password) {
		s.logger.Warn("authentication failed", "remote_addr", ip)
		s.record(r.Context(), &audit.Event{Action: audit.ActionLoginFailure, RemoteAddr: ip})
		writeJSON(w, http.StatusUnauthorized, authResponse{Message: "Invalid password"})
		return
	}

	sessionID, err := s.sessions.Create()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			s.logger.Warn("session limit reached", "remote_addr", ip, "sessions", s.sessions.Len())
			writeJSON(w, http.StatusServiceUnavailable, authResponse{Message: "Too many active sessions"})
			return
		}
		s.logger.Error("create session", "error", err)
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "Internal server error"})
		return
	}

	s.logger.Info("authentication succeeded", "remote_addr", ip, "session", audit.HashSession(sessionID))
	s.record(r.Context(), &audit.Event{
		Action:      audit.ActionLoginSuccess,
		SessionHash: audit.HashSession(sessionID),
		RemoteAddr:  ip,
	})
	writeJSON(w, http.StatusOK, authResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   "Authentication successful",
	})
}

type authResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// --- Agent handlers ---

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers := s.agents.List()
	if servers == nil {
		servers = []registry.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	roster, ok := s.agents.Roster(chi.URLParam(r, "serverID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if roster == nil {
		roster = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": roster})
}

// --- Command handlers ---

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		SessionID string          `json:"sessionId"`
		ServerID  string          `json:"serverId"`
		Command   string          `json:"command"`
		Params    json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := broker.WithRemoteAddr(r.Context(), clientIP(r))
	if _, err := s.broker.ExecuteCommand(ctx, req.SessionID, req.ServerID, req.Command, req.Params); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Command sent"})
}

func (s *Server) handleSelectPlayer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		SessionID  string `json:"sessionId"`
		ServerID   string `json:"serverId"`
		PlayerName string `json:"playerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := broker.WithRemoteAddr(r.Context(), clientIP(r))
	if _, err := s.broker.SelectPlayer(ctx, req.SessionID, req.ServerID, req.PlayerName); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Selected player: " + req.PlayerName})
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var sendErr *broker.TransportSendError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, broker.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, broker.ErrAgentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, broker.ErrEmptyCommand):
		status = http.StatusBadRequest
	case errors.As(err, &sendErr):
		status = http.StatusBadGateway
	default:
		s.logger.Error("dispatch command", "error", err)
	}
	writeError(w, status, broker.PublicMessage(err))
}

// --- Audit handlers ---

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := s.audit.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list audit events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) record(ctx context.Context, event *audit.Event) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.Warn("failed to log audit event", "action", event.Action, "error", err)
	}
}

// --- Health handlers ---

type healthResponse struct {
	Status                string    `json:"status"`
	ConnectedServers      int       `json:"connectedServers"`
	AuthenticatedSessions int       `json:"authenticatedSessions"`
	Timestamp             time.Time `json:"timestamp"`
	ServerList            []string  `json:"serverList"`
	Uptime                string    `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ids := s.agents.IDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:                "healthy",
		ConnectedServers:      len(ids),
		AuthenticatedSessions: s.sessions.Len(),
		Timestamp:             time.Now().UTC(),
		ServerList:            ids,
		Uptime:                time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.audit.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
