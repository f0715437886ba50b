// ABOUTME: Bus interface shared by the NATS and in-memory implementations.
// ABOUTME: Defines key naming helpers for bot logs and deployment status.

package bus

import (
	"context"
	"errors"
)

// Errors returned by Bus implementations.
var (
	ErrNotConnected = errors.New("bus not connected")
	ErrKeyNotFound  = errors.New("key not found")
	ErrClosed       = errors.New("bus closed")
)

// DefaultLogHistory is the number of log lines retained per bot.
const DefaultLogHistory = 101

// Handler receives the payload of a message published on a subscribed topic.
type Handler func(ctx context.Context, payload []byte)

// Bus is the publish-subscribe and key-value transport used by the manager.
type Bus interface {
	// Publish sends payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// PushCapped prepends value to the list at key, keeping at most max
	// entries (most recent first).
	PushCapped(ctx context.Context, key, value string, max int) error

	// History returns the list at key, most recent first.
	History(ctx context.Context, key string) ([]string, error)

	// SetField sets field of the hash at key.
	SetField(ctx context.Context, key, field, value string) error

	// Field reads field of the hash at key. Missing fields return ErrKeyNotFound.
	Field(ctx context.Context, key, field string) (string, error)

	// Subscribe delivers messages on topic to handler until ctx is done or
	// the bus is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Ping reports whether the bus is usable.
	Ping(ctx context.Context) error

	// Close releases all connections and subscriptions.
	Close(ctx context.Context) error
}

// Keys builds the logical key names used by the manager.
type Keys struct {
	LogPrefix    string
	StatusPrefix string
}

// Default key prefixes.
const (
	DefaultLogPrefix    = "xandium-bot-log"
	DefaultStatusPrefix = "bots"
	StatusField         = "status"
)

// DefaultKeys returns the standard key prefixes.
func DefaultKeys() Keys {
	return Keys{LogPrefix: DefaultLogPrefix, StatusPrefix: DefaultStatusPrefix}
}

// Log returns the log topic and history key for a bot.
func (k Keys) Log(internalWorkerID string) string {
	return k.LogPrefix + ":" + internalWorkerID
}

// Status returns the status hash key for a deployment.
func (k Keys) Status(deployment string) string {
	return k.StatusPrefix + ":" + deployment
}
