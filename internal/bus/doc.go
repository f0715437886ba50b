// Package bus is the manager's publish-subscribe and key-value transport.
//
// # Overview
//
// The manager uses the bus for three things:
//
//   - Log fan-out: every `log` frame from a bot is published on the bot's log
//     topic and pushed onto a capped history list under the same key.
//   - Status: `running`/`offline`/`starting` frames set the `status` field of
//     the bot's deployment key.
//   - Command ingress: the control listener subscribes to the broadcast and
//     administrative topics.
//
// Names are logical and colon-separated, for example "xandium-bot-log:42" or
// "bots:prod". Implementations map them onto their own naming rules.
//
// # Implementations
//
// NATS connects two connections (publish and subscribe) to a NATS server.
// Topics become subjects with ":" mapped to "."; history lists and fields are
// kept in JetStream key-value buckets and updated with compare-and-swap.
//
// Memory is an in-process implementation used in tests and single-node runs.
//
// # Reconnection
//
// Both NATS connections share a BackoffPolicy: give up at once when the
// server refuses the connection, give up after MaxAttempts or
// MaxTotalDuration, otherwise wait min(attempt*Step, MaxDelay) between
// attempts. Bus errors are never fatal to the manager.
package bus
