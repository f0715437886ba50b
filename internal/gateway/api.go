// ABOUTME: HTTP handlers for health checks and the read-only worker API.
// ABOUTME: Worker responses are JSON snapshots of registry sessions.

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389/bot-manager/internal/bot"
)

const readyTimeout = 2 * time.Second

// WorkerListResponse is the response body for GET /api/workers.
type WorkerListResponse struct {
	Workers []bot.Info `json:"workers"`
	Active  int        `json:"active"`
}

// handleHealth handles GET /health - basic liveness check.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady handles GET /health/ready - readiness check. The bus and the
// directory must both answer.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := g.bus.Ping(ctx); err != nil {
		g.logger.Warn("readiness: bus unavailable", "error", err)
		http.Error(w, "bus unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := g.directory.Ping(ctx); err != nil {
		g.logger.Warn("readiness: directory unavailable", "error", err)
		http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

// handleListWorkers handles GET /api/workers.
func (g *Gateway) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	sessions := g.registry.List()
	resp := WorkerListResponse{Workers: make([]bot.Info, 0, len(sessions))}
	for _, s := range sessions {
		info := s.Info()
		if info.State == bot.StateActive.String() {
			resp.Active++
		}
		resp.Workers = append(resp.Workers, info)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetWorker handles GET /api/workers/{id}.
func (g *Gateway) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := g.registry.Get(id)
	if !ok {
		g.writeJSONError(w, http.StatusNotFound, "worker not found")
		return
	}
	g.writeJSON(w, http.StatusOK, s.Info())
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) writeJSONError(w http.ResponseWriter, status int, msg string) {
	g.writeJSON(w, status, map[string]string{"error": msg})
}
