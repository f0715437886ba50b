// ABOUTME: Periodic status ping to every Active session.
// ABOUTME: Bots answer with their running state, which keeps the status hash fresh.

package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/bot-manager/internal/metrics"
)

// DefaultHeartbeatInterval is the status ping period.
const DefaultHeartbeatInterval = 5 * time.Second

// Heartbeat pings Active sessions on a fixed interval.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewHeartbeat creates a scheduler. A non-positive interval uses the default.
func NewHeartbeat(registry *Registry, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "heartbeat"),
		metrics:  m,
	}
}

// Run ticks until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debug("heartbeat started", "interval", h.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Tick sends status to every Active session and returns how many were pinged.
func (h *Heartbeat) Tick() int {
	sent := 0
	for _, s := range h.registry.List() {
		if s.State() != StateActive {
			continue
		}
		if err := s.Status(); err != nil {
			h.logger.Debug("status ping failed", "worker_id", s.ID(), "error", err)
			continue
		}
		sent++
	}
	h.metrics.Heartbeats(sent)
	return sent
}
