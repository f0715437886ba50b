// ABOUTME: Accepts bot websocket connections and runs the login handshake and session loop.
// ABOUTME: One goroutine per connection; the session is detached when the frame stream ends.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/bot-manager/internal/bot"
	"github.com/2389/bot-manager/internal/frame"
	"github.com/2389/bot-manager/internal/metrics"
)

// handleBotSocket upgrades the request and serves the connection until the
// bot goes away.
func (g *Gateway) handleBotSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	g.conns.Add(1)
	defer g.conns.Done()

	connID := uuid.New().String()
	logger := g.logger.With("conn_id", connID, "remote", r.RemoteAddr)
	t := newWSTransport(conn, logger)
	if !g.track(t) {
		logger.Debug("bot connection refused during shutdown")
		_ = conn.Close()
		return
	}
	defer g.untrack(t)
	t.start()

	logger.Debug("bot connection accepted")
	g.serveTransport(g.context(), t, connID, logger)
}

// frameSource is a transport that also yields inbound frames.
type frameSource interface {
	bot.Transport
	Inbound() <-chan frame.Frame
}

// serveTransport runs the handshake and the Active session loop over t.
func (g *Gateway) serveTransport(ctx context.Context, t frameSource, connID string, logger *slog.Logger) {
	candidate := bot.NewSession(t, connID)
	var active *bot.Session
	handshakeDone := false

	for f := range t.Inbound() {
		if active != nil {
			g.handler.Handle(ctx, active, f)
			continue
		}
		if handshakeDone {
			continue
		}
		if f.Verb != frame.Login {
			logger.Debug("frame before login ignored", "verb", f.Verb)
			continue
		}
		g.metrics.FrameReceived(f.Verb)

		req, err := frame.ParseLogin(f)
		if err != nil {
			logger.Warn("malformed login", "payload", f.Payload)
			g.metrics.Handshake(metrics.ResultRejected)
			_ = t.Close()
			handshakeDone = true
			continue
		}

		active = g.login(ctx, candidate, req, logger)
		handshakeDone = true
	}

	if active != nil && g.registry.Detach(active, t) {
		logger.Info("bot session detached", "worker_id", active.ID())
	}
	logger.Debug("bot connection closed")
}

// login authenticates the candidate and reconciles it with the registry.
// It returns the session now Active on this transport, or nil.
func (g *Gateway) login(ctx context.Context, candidate *bot.Session, req frame.LoginRequest, logger *slog.Logger) *bot.Session {
	t := candidate.Transport()

	if err := g.auth.Authenticate(ctx, candidate, req); err != nil {
		return nil
	}

	s, err := g.registry.Reconcile(candidate)
	switch {
	case err == nil:
		return s
	case errors.Is(err, bot.ErrDuplicateSession):
		logger.Warn("closing duplicate connection", "worker_id", candidate.ID())
	case errors.Is(err, bot.ErrTransportGone):
		logger.Info("bot went away during login", "worker_id", candidate.ID())
	default:
		logger.Warn("login not completed", "worker_id", candidate.ID(), "error", err)
	}
	if t != nil {
		_ = t.Close()
	}
	return nil
}
