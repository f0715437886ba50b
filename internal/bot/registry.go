// ABOUTME: Tracks one session per logical bot and arbitrates reconnection hand-off.
// ABOUTME: Reconciliation, detach and teardown all run under the registry lock.

package bot

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/bot-manager/internal/metrics"
)

// Registry owns every registered session, keyed by internal worker id.
// Lock order is registry then session.
type Registry struct {
	sessions map[string]*Session
	closed   bool
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty Registry. m may be nil.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "registry"),
		metrics:  m,
	}
}

// Reconcile binds an authenticated candidate to the registry and returns the
// session that is now Active for its worker:
//
//   - no record: the candidate is inserted and returned;
//   - a Disconnected record: the candidate's transport and address move into
//     the record, which is returned (the candidate is discarded);
//   - an Active record: ErrDuplicateSession, nothing changes and the caller
//     closes the candidate's transport;
//   - a candidate whose transport already ended: ErrTransportGone.
//
// The acknowledgement frames are enqueued before the lock is released.
func (r *Registry) Reconcile(c *Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrShuttingDown
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticating {
		return nil, ErrBadState
	}
	if c.transport == nil || transportGone(c.transport) {
		r.metrics.Handshake(metrics.ResultGone)
		return nil, ErrTransportGone
	}

	id := c.identity.InternalWorkerID
	existing, ok := r.sessions[id]
	if !ok {
		c.onSend = r.metrics.FrameSent
		c.activateLocked()
		r.sessions[id] = c
		if err := c.ackLocked(); err != nil {
			r.logger.Warn("acknowledgement failed", "worker_id", id, "error", err)
		}
		r.metrics.Handshake(metrics.ResultActive)
		r.updateActiveLocked()
		r.logger.Info("=== BOT CONNECTED ===",
			"worker_id", id,
			"name", c.identity.WorkerName,
			"address", c.address,
			"conn_id", c.connID,
			"total_bots", len(r.sessions),
		)
		return c, nil
	}

	existing.mu.Lock()
	defer existing.mu.Unlock()

	if existing.state == StateActive {
		r.metrics.Handshake(metrics.ResultDuplicate)
		r.logger.Warn("duplicate session rejected",
			"worker_id", id,
			"existing_conn_id", existing.connID,
			"conn_id", c.connID,
		)
		return existing, ErrDuplicateSession
	}

	existing.transport = c.transport
	existing.address = c.address
	existing.connID = c.connID
	existing.activateLocked()
	c.transport = nil

	if err := existing.ackLocked(); err != nil {
		r.logger.Warn("acknowledgement failed", "worker_id", id, "error", err)
	}
	r.metrics.Handshake(metrics.ResultReattached)
	r.updateActiveLocked()
	r.logger.Info("=== BOT RECONNECTED ===",
		"worker_id", id,
		"address", existing.address,
		"conn_id", existing.connID,
	)
	return existing, nil
}

// Detach marks s Disconnected if t is still its transport. It reports
// whether anything changed; a stale transport never detaches a newer one.
func (r *Registry) Detach(s *Session, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive || s.transport != t {
		return false
	}
	s.transport = nil
	s.state = StateDisconnected
	s.disconnectedAt = time.Now()

	r.updateActiveLocked()
	r.logger.Info("=== BOT DISCONNECTED ===",
		"worker_id", s.identity.InternalWorkerID,
		"conn_id", s.connID,
	)
	return true
}

// Get returns the session for an internal worker id.
func (r *Registry) Get(internalWorkerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[internalWorkerID]
	return s, ok
}

// List returns every registered session ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].identity.InternalWorkerID < out[j].identity.InternalWorkerID
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll marks every session Closed, closes live transports, and waits
// for their streams to end or ctx to expire. Later reconciliations fail
// with ErrShuttingDown. It returns the number of transports closed.
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.Lock()
	r.closed = true
	var live []Transport
	for _, s := range r.sessions {
		s.mu.Lock()
		if s.transport != nil {
			live = append(live, s.transport)
			s.transport = nil
		}
		s.state = StateClosed
		s.mu.Unlock()
	}
	r.updateActiveLocked()
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range live {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			if err := t.Close(); err != nil {
				r.logger.Debug("transport close failed", "error", err)
			}
			select {
			case <-t.Closed():
			case <-ctx.Done():
			}
		}(t)
	}
	wg.Wait()

	r.logger.Info("registry closed", "transports", len(live))
	return len(live)
}

// updateActiveLocked refreshes the active-sessions gauge. Caller holds r.mu.
func (r *Registry) updateActiveLocked() {
	if r.metrics == nil {
		return
	}
	n := 0
	for _, s := range r.sessions {
		if s.state == StateActive {
			n++
		}
	}
	r.metrics.SetSessionsActive(n)
}
