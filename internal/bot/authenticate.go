// ABOUTME: Login handshake: directory identity lookup, credential check, location resolution.
// ABOUTME: Produces an authenticated candidate session ready for registry reconciliation.

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/bot-manager/internal/auth"
	"github.com/2389/bot-manager/internal/directory"
	"github.com/2389/bot-manager/internal/frame"
	"github.com/2389/bot-manager/internal/locate"
	"github.com/2389/bot-manager/internal/metrics"
)

// Locator resolves a location key to a network address.
type Locator interface {
	Resolve(ctx context.Context, locationKey string) (string, error)
}

// Authenticator runs the login handshake for candidate sessions.
type Authenticator struct {
	dir     directory.Directory
	locator Locator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAuthenticator creates an Authenticator. m may be nil.
func NewAuthenticator(dir directory.Directory, locator Locator, logger *slog.Logger, m *metrics.Metrics) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		dir:     dir,
		locator: locator,
		logger:  logger.With("component", "authenticator"),
		metrics: m,
	}
}

// Authenticate moves an Unauthenticated candidate through Authenticating.
// On success the candidate carries its identity and resolved address and is
// ready for Registry.Reconcile. On failure the candidate is Rejected, its
// transport is closed, and the error wraps ErrAuthRejected or
// ErrLocationUnresolved.
func (a *Authenticator) Authenticate(ctx context.Context, s *Session, req frame.LoginRequest) error {
	if err := s.beginAuth(); err != nil {
		return err
	}

	id, err := a.lookup(ctx, req)
	if err != nil {
		a.fail(s, req, err)
		return err
	}

	address, err := a.locator.Resolve(ctx, id.LocationKey)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrLocationUnresolved, err)
		a.fail(s, req, err)
		return err
	}

	s.setIdentity(id, address)
	a.logger.Debug("login authenticated",
		"worker_id", id.InternalWorkerID,
		"location_key", id.LocationKey,
		"address", address,
		"conn_id", s.ConnID(),
	)
	return nil
}

func (a *Authenticator) lookup(ctx context.Context, req frame.LoginRequest) (Identity, error) {
	user, err := a.dir.FindUserByExternalID(ctx, req.UserID)
	if err != nil {
		return Identity{}, rejection("user lookup", err)
	}

	worker, err := a.dir.FindWorkerForUser(ctx, user.InternalID, req.WorkerRef)
	if err != nil {
		return Identity{}, rejection("worker lookup", err)
	}

	if err := auth.VerifyCredential(worker.CredentialHash, req.Credential); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrAuthRejected, err)
	}

	run, args := worker.Command()
	return Identity{
		InternalWorkerID: worker.InternalID,
		ExternalWorkerID: worker.ExternalID,
		InternalUserID:   user.InternalID,
		ExternalUserID:   user.ExternalID,
		WorkerName:       worker.Name,
		RunCommand:       run,
		RunArgs:          args,
		Deployment:       worker.Deployment,
		LocationKey:      locate.Key(worker.ExternalID),
	}, nil
}

func rejection(step string, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrAuthRejected, step, err)
	}
	return fmt.Errorf("%w: %s failed: %w", ErrAuthRejected, step, err)
}

func (a *Authenticator) fail(s *Session, req frame.LoginRequest, err error) {
	s.reject()
	a.metrics.Handshake(metrics.ResultRejected)
	a.logger.Warn("login rejected",
		"user_id", req.UserID,
		"worker_ref", req.WorkerRef,
		"conn_id", s.ConnID(),
		"error", err,
	)
}
