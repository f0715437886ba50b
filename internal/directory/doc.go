// Package directory looks up users, bots and deployable code for the manager.
//
// # Overview
//
// The directory is the system of record for who may connect and what code a
// bot runs. The manager only reads from it:
//
//   - FindUserByExternalID: resolve the user named in a login frame
//   - FindWorkerForUser: resolve a bot owned by that user
//   - ListCodeArtifacts: every file belonging to a bot (bulk sync)
//   - GetCodeArtifact: a single file by id (targeted update)
//
// Absence is always reported as ErrNotFound, never as a zero-valued record.
//
// # Backends
//
// SQLDirectory talks to any database/sql driver using the users, bots and
// code tables. Two drivers are registered:
//
//	directory:
//	  driver: "sqlite"              # modernc.org/sqlite, schema created on open
//	  dsn: "/var/lib/bot-manager/directory.db"
//
//	directory:
//	  driver: "mysql"               # github.com/go-sql-driver/mysql, existing schema
//	  dsn: "manager:${MYSQL_PASS}@tcp(db:3306)/bots"
//
// MockDirectory is an in-memory implementation for tests.
//
// # Artifact Contents
//
// Stored contents are forwarded to bots through a Codec. The default
// Base64Codec base64-encodes the stored bytes so file contents travel as a
// single whitespace-free token.
package directory
