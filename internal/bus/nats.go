// ABOUTME: NATS-backed Bus using core pub/sub and JetStream key-value buckets.
// ABOUTME: Separate publish and subscribe connections share one backoff policy.

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Default JetStream bucket names.
const (
	DefaultLogBucket    = "bot_logs"
	DefaultStatusBucket = "bot_status"
)

// casAttempts bounds compare-and-swap retries on contended history keys.
// Losers back off for a random slice of casBackoff before rereading.
const (
	casAttempts = 64
	casBackoff  = 5 * time.Millisecond
)

// NATSOptions configures DialNATS.
type NATSOptions struct {
	URL          string
	Username     string
	Password     string
	Token        string
	Name         string
	LogBucket    string
	StatusBucket string
	Backoff      BackoffPolicy
	Logger       *slog.Logger
}

// NATS implements Bus on a NATS server.
type NATS struct {
	pub    *nats.Conn
	sub    *nats.Conn
	logs   jetstream.KeyValue
	status jetstream.KeyValue
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// DialNATS connects the publish and subscribe connections and opens (or
// creates) the key-value buckets. Initial connects follow opts.Backoff.
func DialNATS(ctx context.Context, opts NATSOptions) (*NATS, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Name == "" {
		opts.Name = "bot-manager"
	}
	if opts.LogBucket == "" {
		opts.LogBucket = DefaultLogBucket
	}
	if opts.StatusBucket == "" {
		opts.StatusBucket = DefaultStatusBucket
	}
	if opts.Backoff.Step == 0 {
		opts.Backoff = DefaultBackoff()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bus", "driver", "nats")

	pub, err := connectNATS(ctx, opts, opts.Name+"-pub", logger)
	if err != nil {
		return nil, fmt.Errorf("connecting publisher: %w", err)
	}
	sub, err := connectNATS(ctx, opts, opts.Name+"-sub", logger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("connecting subscriber: %w", err)
	}

	js, err := jetstream.New(pub)
	if err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("initializing jetstream: %w", err)
	}

	logs, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.LogBucket,
		Description: "capped bot log history",
		History:     1,
	})
	if err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("opening bucket %s: %w", opts.LogBucket, err)
	}

	status, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.StatusBucket,
		Description: "bot deployment status fields",
		History:     1,
	})
	if err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("opening bucket %s: %w", opts.StatusBucket, err)
	}

	logger.Info("connected to NATS", "url", opts.URL)
	return &NATS{
		pub:    pub,
		sub:    sub,
		logs:   logs,
		status: status,
		logger: logger,
	}, nil
}

// connectNATS dials one connection, retrying per the backoff policy, and
// maps the same policy onto the client's reconnect behaviour.
func connectNATS(ctx context.Context, opts NATSOptions, name string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("connection", name)
	watch := &reconnectWatch{limit: opts.Backoff.MaxTotalDuration, logger: logger}

	natsOpts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(opts.Backoff.MaxAttempts),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return opts.Backoff.Delay(attempts)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
			watch.start(nc)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			watch.stop()
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			watch.stop()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}

	var conn *nats.Conn
	err := opts.Backoff.Retry(ctx, func() error {
		c, err := nats.Connect(opts.URL, natsOpts...)
		if err != nil {
			logger.Warn("NATS connect failed", "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// reconnectWatch closes a connection that stays disconnected longer than the
// policy's total retry duration.
type reconnectWatch struct {
	mu     sync.Mutex
	timer  *time.Timer
	limit  time.Duration
	logger *slog.Logger
}

func (w *reconnectWatch) start(nc *nats.Conn) {
	if w.limit <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.limit, func() {
		if !nc.IsConnected() {
			w.logger.Error("NATS reconnect time exhausted, giving up", "limit", w.limit)
			nc.Close()
		}
	})
}

func (w *reconnectWatch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Subject maps a logical name onto a NATS subject or key.
func Subject(name string) string {
	return strings.ReplaceAll(name, ":", ".")
}

// Publish implements Bus.
func (n *NATS) Publish(ctx context.Context, topic string, payload []byte) error {
	if !n.pub.IsConnected() {
		return ErrNotConnected
	}
	return n.pub.Publish(Subject(topic), payload)
}

// PushCapped implements Bus using compare-and-swap on a JSON list.
func (n *NATS) PushCapped(ctx context.Context, key, value string, max int) error {
	k := Subject(key)
	for attempt := 0; attempt < casAttempts; attempt++ {
		list, rev, err := n.readList(ctx, k)
		if err != nil {
			return err
		}

		data, err := json.Marshal(pushCapped(list, value, max))
		if err != nil {
			return fmt.Errorf("encoding history %s: %w", key, err)
		}

		if rev == 0 {
			_, err = n.logs.Create(ctx, k, data)
		} else {
			_, err = n.logs.Update(ctx, k, data, rev)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("writing history %s: %w", key, err)
		}
		select {
		case <-time.After(rand.N(casBackoff)):
		case <-ctx.Done():
			return fmt.Errorf("writing history %s: %w", key, ctx.Err())
		}
	}
	return fmt.Errorf("writing history %s: %w", key, ErrRetryExhausted)
}

// History implements Bus.
func (n *NATS) History(ctx context.Context, key string) ([]string, error) {
	list, _, err := n.readList(ctx, Subject(key))
	return list, err
}

func (n *NATS) readList(ctx context.Context, k string) ([]string, uint64, error) {
	entry, err := n.logs.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reading history %s: %w", k, err)
	}

	var list []string
	if err := json.Unmarshal(entry.Value(), &list); err != nil {
		return nil, 0, fmt.Errorf("decoding history %s: %w", k, err)
	}
	return list, entry.Revision(), nil
}

// SetField implements Bus.
func (n *NATS) SetField(ctx context.Context, key, field, value string) error {
	if _, err := n.status.PutString(ctx, Subject(key)+"."+field, value); err != nil {
		return fmt.Errorf("setting %s %s: %w", key, field, err)
	}
	return nil
}

// Field implements Bus.
func (n *NATS) Field(ctx context.Context, key, field string) (string, error) {
	entry, err := n.status.Get(ctx, Subject(key)+"."+field)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s %s: %w", key, field, err)
	}
	return string(entry.Value()), nil
}

// Subscribe implements Bus on the subscribe connection.
func (n *NATS) Subscribe(ctx context.Context, topic string, handler Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if !n.sub.IsConnected() {
		return ErrNotConnected
	}

	s, err := n.sub.Subscribe(Subject(topic), func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	n.subs = append(n.subs, s)

	go func() {
		<-ctx.Done()
		_ = s.Unsubscribe()
	}()

	n.logger.Info("subscribed", "topic", topic, "subject", Subject(topic))
	return nil
}

// Ping implements Bus.
func (n *NATS) Ping(ctx context.Context) error {
	if !n.pub.IsConnected() || !n.sub.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains the subscribe connection and closes both connections.
func (n *NATS) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.subs = nil
	n.mu.Unlock()

	var errs []error
	if err := n.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("draining subscriber: %w", err))
	}
	if err := n.pub.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("flushing publisher: %w", err))
	}
	n.pub.Close()

	return errors.Join(errs...)
}

// isConflict reports a lost compare-and-swap race.
func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "10071")
}
