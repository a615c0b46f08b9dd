// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/abracadabra-mc/abracadabra/hub/api"
	"github.com/abracadabra-mc/abracadabra/hub/audit"
	"github.com/abracadabra-mc/abracadabra/hub/auth"
	"github.com/abracadabra-mc/abracadabra/hub/broadcast"
	"github.com/abracadabra-mc/abracadabra/hub/broker"
	"github.com/abracadabra-mc/abracadabra/hub/config"
	"github.com/abracadabra-mc/abracadabra/hub/registry"
	"github.com/abracadabra-mc/abracadabra/hub/session"
	"github.com/abracadabra-mc/abracadabra/hub/transport"
)

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = time.Hour
)

// Options contains optional overrides for embedding and tests.
type Options struct {
	// Listener, when set, is served instead of listening on cfg.Server.Addr.
	Listener net.Listener
}

// Hub is the main hub process.
type Hub struct {
	cfg       *config.Config
	opts      Options
	audit     audit.Store
	sessions  *session.Store
	agents    *registry.Registry
	events    *broadcast.Broadcaster
	broker    *broker.Broker
	transport *transport.Adapter
	api       *api.Server
	logger    *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Hub, error) {
	store, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("init audit store: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init credential check: %w", err)
	}

	h := &Hub{
		cfg:    cfg,
		opts:   opts,
		audit:  store,
		logger: logger.With("component", "hub"),
	}

	h.sessions = session.NewStore(session.Options{
		IdleTimeout: cfg.Session.IdleTimeout.Duration,
		MaxSessions: cfg.Session.MaxSessions,
		OnExpire:    h.recordExpired,
		Logger:      logger,
	})
	h.agents = registry.New(nil)
	h.events = broadcast.New(logger)
	h.broker = broker.New(h.sessions, h.agents, h.events, logger, broker.Options{Audit: store})
	h.transport = transport.New(h.broker, logger, transport.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxFrameBytes:  cfg.Server.MaxFrameBytes,
		Observers:      h.events,
	})
	h.api = api.NewServer(api.Deps{
		Verifier:  verifier,
		Sessions:  h.sessions,
		Agents:    h.agents,
		Broker:    h.broker,
		Transport: h.transport,
		Audit:     store,
	}, cfg, logger)

	if verifier.Name() == "static" {
		logger.Warn("admin password is configured in plaintext; prefer auth.password_hash (see hash-password)")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*'; restrict to specific origins in production")
			break
		}
	}
	if cfg.Server.UIStaticDir != "" {
		if _, err := os.Stat(cfg.Server.UIStaticDir); os.IsNotExist(err) {
			logger.Warn("UI static directory does not exist", "path", cfg.Server.UIStaticDir)
		}
	}

	return h, nil
}

// Handler returns the hub's HTTP handler, including the WebSocket routes.
func (h *Hub) Handler() http.Handler {
	return h.api.Handler()
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.cfg.Server.Addr,
		Handler:           h.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.sessions.StartSweeper(ctx, h.cfg.Session.SweepInterval.Duration)
	h.api.StartBackgroundTasks(ctx)
	if h.cfg.Audit.Driver != "none" && h.cfg.Audit.Retention.Duration > 0 {
		go h.runRetentionPurger(ctx, h.cfg.Audit.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.serve(srv)
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		h.close()
		return err
	}
}

func (h *Hub) serve(srv *http.Server) error {
	tls := h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != ""
	if !tls {
		h.logger.Warn("TLS not configured, running without encryption (development only)")
	}

	ln := h.opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", srv.Addr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	h.logger.Info("hub listening", "addr", ln.Addr().String(), "tls", tls)

	var err error
	if tls {
		err = srv.ServeTLS(ln, h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// close tears down what Shutdown leaves behind. Hijacked WebSocket
// connections are not tracked by http.Server.
func (h *Hub) close() {
	h.transport.Close()
	h.events.Close()
	h.logger.Info("closing audit store")
	if err := h.audit.Close(); err != nil {
		h.logger.Warn("close audit store", "error", err)
	}
}

func (h *Hub) recordExpired(tokens []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, token := range tokens {
		if err := h.audit.Log(ctx, &audit.Event{
			Action:      audit.ActionSessionExpired,
			SessionHash: audit.HashSession(token),
		}); err != nil {
			h.logger.Warn("failed to log audit event", "action", audit.ActionSessionExpired, "error", err)
		}
	}
}

func (h *Hub) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := h.audit.Purge(ctx, cutoff); err != nil {
				h.logger.Warn("retention purge: audit events failed", "error", err)
			} else if n > 0 {
				h.logger.Info("retention purge: deleted old audit events", "count", n)
			}
		}
	}
}
