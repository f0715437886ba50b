// ABOUTME: Shared fakes for bot package tests: recording transport and static locator.
// ABOUTME: Also builds authenticated candidates without a directory round-trip.

package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/bot-manager/internal/locate"
)

// fakeTransport records sent frames. EndStream simulates the peer going away.
type fakeTransport struct {
	mu      sync.Mutex
	frames  []string
	closed  chan struct{}
	once    sync.Once
	closes  int
	sendErr error

	// gate, when set, holds every Send until closed; entered is signalled
	// as each Send starts waiting.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) Send(frame string) error {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.EndStream()
	return nil
}

func (f *fakeTransport) Closed() <-chan struct{} { return f.closed }

func (f *fakeTransport) EndStream() {
	f.once.Do(func() { close(f.closed) })
}

func (f *fakeTransport) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeTransport) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// staticLocator resolves from a fixed map.
type staticLocator struct {
	addrs map[string]string
	err   error
}

func (l *staticLocator) Resolve(ctx context.Context, key string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	addr, ok := l.addrs[key]
	if !ok {
		return "", locate.ErrNoLocationFound
	}
	return addr, nil
}

var errBoom = errors.New("boom")

// candidate builds an authenticated session for worker id on t.
func candidate(t *testing.T, id, runCommand, address string, tr Transport) *Session {
	t.Helper()
	s := NewSession(tr, "conn-"+id)
	require.NoError(t, s.beginAuth())
	fields := strings.Fields(runCommand)
	var run string
	var args []string
	if len(fields) > 0 {
		run, args = fields[0], fields[1:]
	}
	s.setIdentity(Identity{
		InternalWorkerID: id,
		ExternalWorkerID: "ext-" + id,
		WorkerName:       "bot-" + id,
		RunCommand:       run,
		RunArgs:          args,
		Deployment:       "dep-" + id,
	}, address)
	return s
}

// activeSession registers a fresh Active session for id.
func activeSession(t *testing.T, r *Registry, id string) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s, err := r.Reconcile(candidate(t, id, "node app.js", "10.0.0.1", tr))
	require.NoError(t, err)
	tr.Reset()
	return s, tr
}
