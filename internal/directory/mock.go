// ABOUTME: In-memory Directory implementation for tests.
// ABOUTME: Supports injected errors and per-call gating to exercise slow lookups.

package directory

import (
	"context"
	"sort"
	"sync"
)

// MockDirectory is an in-memory Directory for testing.
type MockDirectory struct {
	mu        sync.RWMutex
	users     map[string]*User     // keyed by external id
	workers   map[string]*Worker   // keyed by "userID:externalID"
	artifacts map[string]*Artifact // keyed by artifact id

	// Err, when set, is returned from every lookup.
	Err error

	// Gate, when set, is received from before each worker lookup returns.
	Gate chan struct{}
}

// NewMockDirectory creates an empty MockDirectory.
func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		users:     make(map[string]*User),
		workers:   make(map[string]*Worker),
		artifacts: make(map[string]*Artifact),
	}
}

// AddUser stores a user.
func (m *MockDirectory) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ExternalID] = &u
}

// AddWorker stores a bot.
func (m *MockDirectory) AddWorker(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.UserID+":"+w.ExternalID] = &w
}

// AddArtifact stores a code artifact.
func (m *MockDirectory) AddArtifact(a Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.ID] = &a
}

// FindUserByExternalID implements Directory.
func (m *MockDirectory) FindUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// FindWorkerForUser implements Directory.
func (m *MockDirectory) FindWorkerForUser(ctx context.Context, internalUserID, workerRef string) (*Worker, error) {
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	w, ok := m.workers[internalUserID+":"+workerRef]
	if !ok {
		return nil, ErrNotFound
	}
	c := *w
	return &c, nil
}

// ListCodeArtifacts implements Directory.
func (m *MockDirectory) ListCodeArtifacts(ctx context.Context, internalWorkerID string) ([]*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	var out []*Artifact
	for _, a := range m.artifacts {
		if a.WorkerID == internalWorkerID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCodeArtifact implements Directory.
func (m *MockDirectory) GetCodeArtifact(ctx context.Context, id string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	a, ok := m.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// Ping implements Directory.
func (m *MockDirectory) Ping(ctx context.Context) error {
	return m.Err
}

// Close implements Directory.
func (m *MockDirectory) Close() error {
	return nil
}
