// ABOUTME: database/sql implementation of Directory for sqlite and mysql.
// ABOUTME: Optionally creates the schema on open, with a per-driver dialect.

package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SQLDirectory implements Directory over database/sql.
type SQLDirectory struct {
	db     *sql.DB
	logger *slog.Logger
}

// Options configures OpenSQL.
type Options struct {
	Driver  string
	DSN     string
	Migrate bool
	Logger  *slog.Logger
}

// OpenSQL opens a directory database. For sqlite the parent directory of the
// database file is created and, when Migrate is set, the schema is applied.
func OpenSQL(opts Options) (*SQLDirectory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "directory")

	switch opts.Driver {
	case DriverSQLite:
		if opts.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(opts.DSN), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", opts.Driver)
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if opts.Driver == DriverSQLite && opts.DSN == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if opts.Driver == DriverMySQL {
		db.SetMaxOpenConns(10)
	}

	d := &SQLDirectory{db: db, logger: logger}

	if opts.Migrate {
		if err := d.createSchema(opts.Driver); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	logger.Info("directory opened", "driver", opts.Driver)
	return d, nil
}

// sqliteSchema is the sqlite directory schema.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		runcommand TEXT NOT NULL DEFAULT '',
		deployment TEXT NOT NULL DEFAULT '',
		token_hash TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bots_user_external ON bots(user_id, external_id)`,
	`CREATE TABLE IF NOT EXISTS code (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		directory TEXT NOT NULL DEFAULT '',
		contents BLOB NOT NULL,
		FOREIGN KEY (bot_id) REFERENCES bots(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_code_bot_id ON code(bot_id)`,
}

// mysqlSchema is the mysql directory schema. Keys are VARCHAR because
// MySQL cannot index TEXT without a prefix length.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		external_id VARCHAR(191) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS bots (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		external_id VARCHAR(191) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		username VARCHAR(255) NOT NULL DEFAULT '',
		runcommand VARCHAR(1024) NOT NULL DEFAULT '',
		deployment VARCHAR(255) NOT NULL DEFAULT '',
		token_hash VARCHAR(255) NOT NULL DEFAULT '',
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
	`CREATE INDEX idx_bots_user_external ON bots(user_id, external_id)`,
	`CREATE TABLE IF NOT EXISTS code (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		bot_id VARCHAR(64) NOT NULL,
		filename VARCHAR(1024) NOT NULL,
		directory VARCHAR(1024) NOT NULL DEFAULT '',
		contents LONGBLOB NOT NULL,
		FOREIGN KEY (bot_id) REFERENCES bots(id)
	)`,
	`CREATE INDEX idx_code_bot_id ON code(bot_id)`,
}

// mysqlDuplicateKeyName is ER_DUP_KEYNAME, returned when an index exists.
const mysqlDuplicateKeyName = 1061

func schemaFor(driver string) []string {
	if driver == DriverMySQL {
		return mysqlSchema
	}
	return sqliteSchema
}

// createSchema creates the directory tables if they don't exist. Statements
// run one at a time; the mysql driver rejects multi-statement Exec.
func (d *SQLDirectory) createSchema(driver string) error {
	for _, stmt := range schemaFor(driver) {
		if _, err := d.db.Exec(stmt); err != nil {
			if existingIndex(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// existingIndex reports a mysql CREATE INDEX on an index that already exists.
func existingIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName
}

// FindUserByExternalID implements Directory.
func (d *SQLDirectory) FindUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx,
		"SELECT id, external_id FROM users WHERE external_id = ?", externalID,
	).Scan(&u.InternalID, &u.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// FindWorkerForUser implements Directory.
func (d *SQLDirectory) FindWorkerForUser(ctx context.Context, internalUserID, workerRef string) (*Worker, error) {
	var w Worker
	err := d.db.QueryRowContext(ctx, `
		SELECT id, external_id, user_id, username, runcommand, deployment, token_hash
		FROM bots WHERE user_id = ? AND external_id = ?`,
		internalUserID, workerRef,
	).Scan(&w.InternalID, &w.ExternalID, &w.UserID, &w.Name, &w.RunCommand, &w.Deployment, &w.CredentialHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bot: %w", err)
	}
	return &w, nil
}

// ListCodeArtifacts implements Directory.
func (d *SQLDirectory) ListCodeArtifacts(ctx context.Context, internalWorkerID string) ([]*Artifact, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, bot_id, filename, directory, contents FROM code WHERE bot_id = ? ORDER BY id",
		internalWorkerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying code: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.WorkerID, &a.Filename, &a.Directory, &a.Contents); err != nil {
			return nil, fmt.Errorf("scanning code row: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating code rows: %w", err)
	}
	return artifacts, nil
}

// GetCodeArtifact implements Directory.
func (d *SQLDirectory) GetCodeArtifact(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	err := d.db.QueryRowContext(ctx,
		"SELECT id, bot_id, filename, directory, contents FROM code WHERE id = ?", id,
	).Scan(&a.ID, &a.WorkerID, &a.Filename, &a.Directory, &a.Contents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying code: %w", err)
	}
	return &a, nil
}

// Ping checks database connectivity.
func (d *SQLDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

// CreateUser inserts a user. Used for seeding sqlite directories.
func (d *SQLDirectory) CreateUser(ctx context.Context, u *User) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO users (id, external_id) VALUES (?, ?)", u.InternalID, u.ExternalID)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// CreateWorker inserts a bot.
func (d *SQLDirectory) CreateWorker(ctx context.Context, w *Worker) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO bots (id, external_id, user_id, username, runcommand, deployment, token_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.InternalID, w.ExternalID, w.UserID, w.Name, w.RunCommand, w.Deployment, w.CredentialHash)
	if err != nil {
		return fmt.Errorf("inserting bot: %w", err)
	}
	return nil
}

// CreateArtifact inserts a code artifact.
func (d *SQLDirectory) CreateArtifact(ctx context.Context, a *Artifact) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO code (id, bot_id, filename, directory, contents) VALUES (?, ?, ?, ?, ?)",
		a.ID, a.WorkerID, a.Filename, a.Directory, a.Contents)
	if err != nil {
		return fmt.Errorf("inserting code: %w", err)
	}
	return nil
}
