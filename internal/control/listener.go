// ABOUTME: Subscribes to the broadcast and admin bus topics and routes commands to bots.
// ABOUTME: A "manager stop" message on the admin topic shuts the process down.

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/bot-manager/internal/bot"
	"github.com/2389/bot-manager/internal/bus"
	"github.com/2389/bot-manager/internal/frame"
	"github.com/2389/bot-manager/internal/metrics"
)

// Default topic names.
const (
	DefaultBroadcastTopic = "bots"
	DefaultAdminTopic     = "xandium-manager"
)

// managerTarget is the verb of commands addressed to the manager itself.
const managerTarget = "manager"

// Command outcomes recorded in metrics.
const (
	outcomeSent     = "sent"
	outcomeDropped  = "dropped"
	outcomeFailed   = "failed"
	outcomeIgnored  = "ignored"
	outcomeShutdown = "shutdown"
)

// ErrUnknownVerb is returned for commands the listener does not understand.
var ErrUnknownVerb = errors.New("unknown control verb")

// ArtifactSender delivers one code artifact to a session.
type ArtifactSender interface {
	SendArtifact(ctx context.Context, s *bot.Session, codeID string) error
}

// Config configures a Listener.
type Config struct {
	Bus            bus.Bus
	BroadcastTopic string
	AdminTopic     string
	Registry       *bot.Registry
	Artifacts      ArtifactSender
	Shutdown       func()
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Listener routes control channel commands to registered sessions.
type Listener struct {
	bus            bus.Bus
	broadcastTopic string
	adminTopic     string
	registry       *bot.Registry
	artifacts      ArtifactSender
	shutdown       func()
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// New creates a Listener, filling default topics.
func New(cfg Config) *Listener {
	if cfg.BroadcastTopic == "" {
		cfg.BroadcastTopic = DefaultBroadcastTopic
	}
	if cfg.AdminTopic == "" {
		cfg.AdminTopic = DefaultAdminTopic
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Shutdown == nil {
		cfg.Shutdown = func() {}
	}
	return &Listener{
		bus:            cfg.Bus,
		broadcastTopic: cfg.BroadcastTopic,
		adminTopic:     cfg.AdminTopic,
		registry:       cfg.Registry,
		artifacts:      cfg.Artifacts,
		shutdown:       cfg.Shutdown,
		logger:         cfg.Logger.With("component", "control"),
		metrics:        cfg.Metrics,
	}
}

// Start subscribes to both topics. Subscriptions end when ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.bus.Subscribe(ctx, l.adminTopic, func(ctx context.Context, payload []byte) {
		l.Dispatch(ctx, true, string(payload))
	}); err != nil {
		return fmt.Errorf("subscribing to admin topic: %w", err)
	}
	if err := l.bus.Subscribe(ctx, l.broadcastTopic, func(ctx context.Context, payload []byte) {
		l.Dispatch(ctx, false, string(payload))
	}); err != nil {
		return fmt.Errorf("subscribing to broadcast topic: %w", err)
	}

	l.logger.Info("control channel listening",
		"admin_topic", l.adminTopic,
		"broadcast_topic", l.broadcastTopic,
	)
	return nil
}

// Dispatch handles one control message. admin reports whether it arrived on
// the administrative topic. Failures are logged and never returned.
func (l *Listener) Dispatch(ctx context.Context, admin bool, msg string) {
	f, err := frame.Parse(msg)
	if err != nil {
		l.logger.Debug("empty control message ignored")
		return
	}

	fields := f.Fields()
	if f.Verb == managerTarget {
		l.manage(admin, fields)
		return
	}
	if len(fields) == 0 {
		l.record(f.Verb, outcomeIgnored)
		l.logger.Debug("control message without target ignored", "verb", f.Verb)
		return
	}
	target := fields[0]

	s, ok := l.registry.Get(target)
	if !ok {
		l.record(f.Verb, outcomeDropped)
		l.logger.Debug("control message for unknown bot dropped", "verb", f.Verb, "worker_id", target)
		return
	}

	if err := l.route(ctx, s, f.Verb, fields[1:]); err != nil {
		l.record(f.Verb, outcomeFailed)
		level := slog.LevelWarn
		if errors.Is(err, bot.ErrNotConnected) {
			level = slog.LevelInfo
		}
		l.logger.Log(ctx, level, "control command failed",
			"verb", f.Verb,
			"worker_id", target,
			"error", err,
		)
		return
	}
	l.record(f.Verb, outcomeSent)
	l.logger.Debug("control command sent", "verb", f.Verb, "worker_id", target)
}

func (l *Listener) manage(admin bool, args []string) {
	verb := managerTarget
	if len(args) > 0 {
		verb = managerTarget + " " + args[0]
	}
	if len(args) == 0 || args[0] != frame.Stop {
		l.record(verb, outcomeIgnored)
		l.logger.Warn("unknown manager command ignored", "verb", verb)
		return
	}
	if !admin {
		l.record(verb, outcomeIgnored)
		l.logger.Warn("manager stop ignored on broadcast topic", "topic", l.broadcastTopic)
		return
	}
	l.record(verb, outcomeShutdown)
	l.logger.Info("manager stop received, shutting down")
	l.shutdown()
}

func (l *Listener) route(ctx context.Context, s *bot.Session, verb string, args []string) error {
	switch verb {
	case frame.Stop:
		return s.Stop()
	case frame.Start:
		return s.Start()
	case frame.Regenerate:
		return s.Regenerate()
	case frame.Kill:
		return s.Kill()
	case frame.Reload:
		return s.Reload()
	case frame.Restart:
		return s.Restart()
	case frame.Update:
		if len(args) == 0 {
			return fmt.Errorf("update: missing code id")
		}
		if l.artifacts == nil {
			return fmt.Errorf("update: no artifact source configured")
		}
		return l.artifacts.SendArtifact(ctx, s, args[0])
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
}

// knownVerbs bounds the verb label on control metrics.
var knownVerbs = map[string]bool{
	frame.Stop: true, frame.Start: true, frame.Regenerate: true, frame.Kill: true,
	frame.Reload: true, frame.Restart: true, frame.Update: true,
	managerTarget: true, managerTarget + " " + frame.Stop: true,
}

func (l *Listener) record(verb, outcome string) {
	if !knownVerbs[verb] {
		verb = "other"
	}
	l.metrics.ControlCommand(verb, outcome)
}
