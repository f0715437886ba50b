// Package gateway runs the bot-manager servers.
//
// # Overview
//
// The Gateway owns two HTTP servers. The bot server upgrades every request to
// a websocket and runs one session loop per connection. The HTTP server serves
// health checks, a read-only worker API and, when enabled, Prometheus metrics.
//
// # Bot Connections
//
// Each connection gets a transport with its own reader and writer goroutines.
// The first login frame starts the handshake:
//
//  1. The directory authenticates the user and worker
//  2. The orchestration API resolves the bot's address
//  3. The registry reconciles the candidate with any existing record
//
// A bot reconnecting after a drop takes over its Disconnected record. A second
// connection for a bot that is still Active is closed with code 1000.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Bus and directory readiness
//   - GET /api/workers - Registry snapshot
//   - GET /api/workers/{id} - One worker
//
// The /api routes require a bearer JWT when auth.jwt_secret is set.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, deps, logger)
//	err = gw.Run(ctx)
//
// Run returns when ctx is canceled, when a "manager stop" arrives on the admin
// topic, or when a server fails. Shutdown then stops both servers, closes every
// bot transport, waits for connection goroutines, and closes the bus and the
// directory.
package gateway
