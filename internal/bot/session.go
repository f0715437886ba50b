// ABOUTME: Represents one logical bot and the transport it is currently bound to.
// ABOUTME: Holds identity, lifecycle state and the outbound command helpers.

package bot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2389/bot-manager/internal/frame"
)

// Session errors
var (
	ErrAuthRejected       = errors.New("authentication rejected")
	ErrLocationUnresolved = errors.New("location unresolved")
	ErrDuplicateSession   = errors.New("duplicate session")
	ErrTransportGone      = errors.New("transport gone")
	ErrNotConnected       = errors.New("bot not connected")
	ErrEmptyArtifactSet   = errors.New("no code artifacts")
	ErrShuttingDown       = errors.New("registry shutting down")
	ErrBadState           = errors.New("invalid session state")
)

// State is a session lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateRejected
	StateActive
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateRejected:
		return "rejected"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is a bidirectional frame channel to one bot process. Send must
// not block on network I/O. Closed is closed once the inbound frame stream
// has ended.
type Transport interface {
	Send(frame string) error
	Close() error
	Closed() <-chan struct{}
}

// transportGone reports whether t's frame stream has already ended.
func transportGone(t Transport) bool {
	select {
	case <-t.Closed():
		return true
	default:
		return false
	}
}

// Identity is the directory-derived identity of a bot.
type Identity struct {
	InternalWorkerID string
	ExternalWorkerID string
	InternalUserID   string
	ExternalUserID   string
	WorkerName       string
	RunCommand       string
	RunArgs          []string
	Deployment       string
	LocationKey      string
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	InternalWorkerID string    `json:"internal_worker_id"`
	ExternalWorkerID string    `json:"external_worker_id"`
	ExternalUserID   string    `json:"external_user_id"`
	WorkerName       string    `json:"name"`
	Deployment       string    `json:"deployment"`
	Address          string    `json:"address"`
	State            string    `json:"state"`
	ConnID           string    `json:"conn_id,omitempty"`
	ConnectedAt      time.Time `json:"connected_at"`
	DisconnectedAt   time.Time `json:"disconnected_at,omitzero"`
}

// Session is one logical bot. It outlives individual transports: a
// reconnecting bot is re-bound to its existing Session by the Registry.
type Session struct {
	mu             sync.RWMutex
	identity       Identity
	address        string
	transport      Transport
	state          State
	connID         string
	connectedAt    time.Time
	disconnectedAt time.Time
	onSend         func()
}

// NewSession creates an Unauthenticated session bound to t.
func NewSession(t Transport, connID string) *Session {
	return &Session{
		transport: t,
		state:     StateUnauthenticated,
		connID:    connID,
	}
}

// ID returns the internal worker id, empty until authenticated.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.InternalWorkerID
}

// Identity returns a copy of the session identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.identity
	id.RunArgs = append([]string(nil), s.identity.RunArgs...)
	return id
}

// Address returns the last resolved network address.
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ConnID returns the id of the transport the session was last bound to.
func (s *Session) ConnID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

// Transport returns the bound transport, nil unless Active or handshaking.
func (s *Session) Transport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// Info returns a snapshot for reporting.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		InternalWorkerID: s.identity.InternalWorkerID,
		ExternalWorkerID: s.identity.ExternalWorkerID,
		ExternalUserID:   s.identity.ExternalUserID,
		WorkerName:       s.identity.WorkerName,
		Deployment:       s.identity.Deployment,
		Address:          s.address,
		State:            s.state.String(),
		ConnID:           s.connID,
		ConnectedAt:      s.connectedAt,
		DisconnectedAt:   s.disconnectedAt,
	}
}

// beginAuth moves Unauthenticated to Authenticating.
func (s *Session) beginAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return fmt.Errorf("%w: login while %s", ErrBadState, s.state)
	}
	s.state = StateAuthenticating
	return nil
}

// setIdentity records the resolved identity and address of a candidate.
func (s *Session) setIdentity(id Identity, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.address = address
}

// reject closes the candidate's transport and marks it Rejected.
func (s *Session) reject() {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.state = StateRejected
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
}

// activateLocked marks the session Active. Caller holds s.mu.
func (s *Session) activateLocked() {
	s.state = StateActive
	s.connectedAt = time.Now()
	s.disconnectedAt = time.Time{}
}

// sendLocked writes one frame. Caller holds s.mu.
func (s *Session) sendLocked(f string) error {
	if s.state != StateActive || s.transport == nil {
		return ErrNotConnected
	}
	return deliver(s.transport, f, s.onSend)
}

func deliver(t Transport, f string, onSend func()) error {
	if err := t.Send(f); err != nil {
		return fmt.Errorf("sending %q: %w", frameVerb(f), err)
	}
	if onSend != nil {
		onSend()
	}
	return nil
}

// ackLocked sends the activation acknowledgement. Caller holds s.mu.
func (s *Session) ackLocked() error {
	args := append([]string{s.identity.RunCommand}, s.identity.RunArgs...)
	for _, f := range []string{
		frame.OK,
		frame.Status,
		frame.Format(frame.Command, args...),
	} {
		if err := s.sendLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// Send writes a raw frame. It fails with ErrNotConnected unless the session
// is Active. The transport may block while its queue is full, so the send
// happens outside the session lock.
func (s *Session) Send(f frame.Frame) error {
	s.mu.RLock()
	t, onSend := s.transport, s.onSend
	active := s.state == StateActive
	s.mu.RUnlock()

	if !active || t == nil {
		return ErrNotConnected
	}
	return deliver(t, f.String(), onSend)
}

func (s *Session) send(verb string, args ...string) error {
	return s.Send(frame.New(verb, args...))
}

// Mkdir asks the bot to create a directory.
func (s *Session) Mkdir(dir string) error { return s.send(frame.Mkdir, dir) }

// Rmdir asks the bot to remove a directory.
func (s *Session) Rmdir(dir string) error { return s.send(frame.Rmdir, dir) }

// Update writes a file on the bot. contents must already be encoded.
func (s *Session) Update(filename, contents string) error {
	return s.send(frame.Update, filename, contents)
}

// Delete removes a file on the bot.
func (s *Session) Delete(filename string) error { return s.send(frame.Delete, filename) }

func (s *Session) Reload() error     { return s.send(frame.Reload) }
func (s *Session) Restart() error    { return s.send(frame.Restart) }
func (s *Session) Start() error      { return s.send(frame.Start) }
func (s *Session) Stop() error       { return s.send(frame.Stop) }
func (s *Session) Regenerate() error { return s.send(frame.Regenerate) }
func (s *Session) Kill() error       { return s.send(frame.Kill) }

// Execute runs a shell command on the bot.
func (s *Session) Execute(cmd string) error { return s.send(frame.Execute, cmd) }

// Status pings the bot, which answers with running, offline or starting.
func (s *Session) Status() error { return s.send(frame.Status) }

// Command tells the bot how to launch its program.
func (s *Session) Command(run string, args ...string) error {
	return s.send(frame.Command, append([]string{run}, args...)...)
}

func frameVerb(f string) string {
	parsed, err := frame.Parse(f)
	if err != nil {
		return ""
	}
	return parsed.Verb
}
