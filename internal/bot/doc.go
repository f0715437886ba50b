// Package bot manages the sessions of connected bots.
//
// # Session Lifecycle
//
// A Session is created for every accepted transport and moves through:
//
//	Unauthenticated -> Authenticating -> Rejected
//	                                  -> Active -> Disconnected -> Active
//	                                                            -> Closed
//
// The Authenticator handles the login frame: it looks up the user and bot in
// the directory, checks the optional credential hash and resolves the bot's
// address. Any failure leaves the candidate Rejected with its transport
// closed.
//
// # Registry
//
// The Registry keeps one Session per internal worker id. Reconcile decides
// what happens to an authenticated candidate:
//
//   - no record: the candidate becomes the record and is Active
//   - Disconnected record: the candidate's transport moves into the record
//   - Active record: ErrDuplicateSession, the caller closes the candidate
//
// Activation is acknowledged with OK, status and command frames, enqueued
// while the registry lock is held. Detach only disconnects a session when the
// given transport is still the current one.
//
// # Inbound Frames
//
// Handler processes frames from Active bots: log lines go to the bus and a
// capped history, status reports update the deployment status field, and
// pullall streams every code artifact followed by pullend.
//
// # Heartbeat
//
// Heartbeat sends status to every Active session on a fixed interval.
//
// # Thread Safety
//
// Registry and Session are safe for concurrent use. Lock order is registry
// then session.
package bot
