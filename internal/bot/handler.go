// ABOUTME: Handles frames sent by Active bots: logs, status reports and code pulls.
// ABOUTME: Log lines and status fields are written to the bus; code comes from the directory.

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/bot-manager/internal/bus"
	"github.com/2389/bot-manager/internal/directory"
	"github.com/2389/bot-manager/internal/frame"
	"github.com/2389/bot-manager/internal/metrics"
)

// Status field values written for bot status reports.
const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusStarting = "starting"
)

var statusByVerb = map[string]string{
	frame.Running:  StatusOnline,
	frame.Offline:  StatusOffline,
	frame.Starting: StatusStarting,
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Bus        bus.Bus
	Keys       bus.Keys
	LogHistory int
	Directory  directory.Directory
	Codec      directory.Codec
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Handler dispatches inbound frames from Active sessions.
type Handler struct {
	bus        bus.Bus
	keys       bus.Keys
	logHistory int
	dir        directory.Directory
	codec      directory.Codec
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHandler creates a Handler, filling defaults for keys, history and codec.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Keys.LogPrefix == "" {
		cfg.Keys.LogPrefix = bus.DefaultLogPrefix
	}
	if cfg.Keys.StatusPrefix == "" {
		cfg.Keys.StatusPrefix = bus.DefaultStatusPrefix
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = bus.DefaultLogHistory
	}
	if cfg.Codec == nil {
		cfg.Codec = directory.Base64Codec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		bus:        cfg.Bus,
		keys:       cfg.Keys,
		logHistory: cfg.LogHistory,
		dir:        cfg.Directory,
		codec:      cfg.Codec,
		logger:     cfg.Logger.With("component", "handler"),
		metrics:    cfg.Metrics,
	}
}

// Handle processes one inbound frame for s. Failures are logged; a bad frame
// never ends the session.
func (h *Handler) Handle(ctx context.Context, s *Session, f frame.Frame) {
	h.metrics.FrameReceived(f.Verb)

	var err error
	switch f.Verb {
	case frame.Log:
		err = h.Log(ctx, s, f.Payload)
	case frame.Running, frame.Offline, frame.Starting:
		err = h.SetStatus(ctx, s, statusByVerb[f.Verb])
	case frame.PullAll:
		err = h.PullAll(ctx, s)
	case frame.Login:
		h.logger.Warn("login on active session ignored", "worker_id", s.ID(), "conn_id", s.ConnID())
	default:
		h.logger.Debug("unknown verb ignored", "verb", f.Verb, "worker_id", s.ID())
	}

	if errors.Is(err, ErrEmptyArtifactSet) {
		h.logger.Info("no code to pull", "worker_id", s.ID())
		return
	}
	if err != nil {
		h.logger.Error("frame handling failed",
			"verb", f.Verb,
			"worker_id", s.ID(),
			"error", err,
		)
	}
}

// Log publishes a bot log line and records it in the capped history.
func (h *Handler) Log(ctx context.Context, s *Session, message string) error {
	key := h.keys.Log(s.ID())
	if err := h.bus.Publish(ctx, key, []byte(message)); err != nil {
		return fmt.Errorf("publishing log: %w", err)
	}
	if err := h.bus.PushCapped(ctx, key, message, h.logHistory); err != nil {
		return fmt.Errorf("storing log: %w", err)
	}
	return nil
}

// SetStatus records the deployment status reported by a bot.
func (h *Handler) SetStatus(ctx context.Context, s *Session, status string) error {
	key := h.keys.Status(s.Identity().Deployment)
	if err := h.bus.SetField(ctx, key, bus.StatusField, status); err != nil {
		return fmt.Errorf("setting status: %w", err)
	}
	return nil
}

// PullAll streams every code artifact of the bot: mkdir and update per
// artifact followed by one pullend. An empty set, or a directory failure,
// answers ERROR alone and returns an error wrapping ErrEmptyArtifactSet.
func (h *Handler) PullAll(ctx context.Context, s *Session) error {
	id := s.ID()
	artifacts, err := h.dir.ListCodeArtifacts(ctx, id)
	if err != nil {
		h.logger.Error("listing code artifacts failed", "worker_id", id, "error", err)
		artifacts = nil
	}

	if len(artifacts) == 0 {
		if sendErr := s.Send(frame.New(frame.Error)); sendErr != nil {
			return sendErr
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEmptyArtifactSet, err)
		}
		return ErrEmptyArtifactSet
	}

	for _, a := range artifacts {
		if err := s.Mkdir(a.Directory); err != nil {
			return err
		}
		if err := s.Update(a.Filename, h.codec.Encode(a.Contents)); err != nil {
			return err
		}
	}

	h.logger.Debug("code pulled", "worker_id", id, "artifacts", len(artifacts))
	return s.Send(frame.New(frame.PullEnd))
}

// SendArtifact sends a single artifact to s as an update frame.
func (h *Handler) SendArtifact(ctx context.Context, s *Session, codeID string) error {
	a, err := h.dir.GetCodeArtifact(ctx, codeID)
	if err != nil {
		return fmt.Errorf("fetching artifact %s: %w", codeID, err)
	}
	return s.Update(a.Filename, h.codec.Encode(a.Contents))
}
