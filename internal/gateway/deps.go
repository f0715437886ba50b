// ABOUTME: Builds the bus, directory and location resolver from configuration.
// ABOUTME: Used by the serve command to assemble gateway Deps.

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/bot-manager/internal/bus"
	"github.com/2389/bot-manager/internal/config"
	"github.com/2389/bot-manager/internal/directory"
	"github.com/2389/bot-manager/internal/locate"
)

// OpenDirectory opens the configured SQL directory.
func OpenDirectory(cfg *config.Config, logger *slog.Logger) (*directory.SQLDirectory, error) {
	dir, err := directory.OpenSQL(directory.Options{
		Driver:  cfg.Directory.Driver,
		DSN:     cfg.Directory.DSN,
		Migrate: cfg.Directory.Migrate,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening directory: %w", err)
	}
	return dir, nil
}

// BackoffPolicy converts the configured reconnection policy.
func BackoffPolicy(cfg config.BackoffConfig) bus.BackoffPolicy {
	p := bus.DefaultBackoff()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxTotalDuration > 0 {
		p.MaxTotalDuration = cfg.MaxTotalDuration
	}
	if cfg.Step > 0 {
		p.Step = cfg.Step
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// OpenBus connects the configured message bus. The memory driver is for
// single-process development and tests.
func OpenBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "memory":
		logger.Warn("using in-memory bus; control messages from other processes will not arrive")
		return bus.NewMemory(logger), nil
	case "nats":
		n, err := bus.DialNATS(ctx, bus.NATSOptions{
			URL:      cfg.Bus.URL,
			Username: cfg.Bus.Username,
			Password: cfg.Bus.Password,
			Token:    cfg.Bus.Token,
			Name:     "bot-manager",
			Backoff:  BackoffPolicy(cfg.Bus.Backoff),
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to bus: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

// OpenLocator builds the orchestration-backed location resolver.
func OpenLocator(cfg *config.Config) (*locate.Resolver, error) {
	lister, err := locate.NewKubeLister(locate.KubeConfig{
		BaseURL:  cfg.Orchestration.BaseURL,
		Token:    cfg.Orchestration.Token,
		CAFile:   cfg.Orchestration.CAFile,
		Insecure: cfg.Orchestration.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestration client: %w", err)
	}
	return locate.NewResolver(lister, locate.Options{
		Namespace: cfg.Orchestration.Namespace,
		LabelKey:  cfg.Orchestration.LabelKey,
		Timeout:   cfg.Orchestration.Timeout,
	}), nil
}
