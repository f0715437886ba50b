// ABOUTME: Tests for the SQL directory against an in-memory sqlite database.
// ABOUTME: Covers lookups, not-found handling, artifact listing and the codec.

package directory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLDirectory(t *testing.T) *SQLDirectory {
	t.Helper()
	d, err := OpenSQL(Options{Driver: DriverSQLite, DSN: ":memory:", Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func seed(t *testing.T, d *SQLDirectory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.CreateUser(ctx, &User{InternalID: "iu1", ExternalID: "u1"}))
	require.NoError(t, d.CreateWorker(ctx, &Worker{
		InternalID: "iw1", ExternalID: "w1", UserID: "iu1",
		Name: "helper", RunCommand: "node app.js", Deployment: "d1",
	}))
	require.NoError(t, d.CreateArtifact(ctx, &Artifact{ID: "c1", WorkerID: "iw1", Filename: "app.js", Directory: ".", Contents: []byte("console.log(1)")}))
	require.NoError(t, d.CreateArtifact(ctx, &Artifact{ID: "c2", WorkerID: "iw1", Filename: "lib/x.js", Directory: "lib", Contents: []byte("x")}))
}

func TestSQLDirectoryLookups(t *testing.T) {
	d := newTestSQLDirectory(t)
	seed(t, d)
	ctx := context.Background()

	u, err := d.FindUserByExternalID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "iu1", u.InternalID)

	w, err := d.FindWorkerForUser(ctx, u.InternalID, "w1")
	require.NoError(t, err)
	assert.Equal(t, "iw1", w.InternalID)
	assert.Equal(t, "d1", w.Deployment)
	cmd, args := w.Command()
	assert.Equal(t, "node", cmd)
	assert.Equal(t, []string{"app.js"}, args)

	arts, err := d.ListCodeArtifacts(ctx, "iw1")
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, "app.js", arts[0].Filename)
	assert.Equal(t, []byte("console.log(1)"), arts[0].Contents)

	a, err := d.GetCodeArtifact(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "lib", a.Directory)

	require.NoError(t, d.Ping(ctx))
}

func TestSQLDirectoryNotFound(t *testing.T) {
	d := newTestSQLDirectory(t)
	seed(t, d)
	ctx := context.Background()

	_, err := d.FindUserByExternalID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	// Worker exists but belongs to someone else.
	_, err = d.FindWorkerForUser(ctx, "iu2", "w1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.GetCodeArtifact(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	arts, err := d.ListCodeArtifacts(ctx, "iw-none")
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestOpenSQLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir.db")
	d, err := OpenSQL(Options{Driver: DriverSQLite, DSN: path, Migrate: true})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.CreateUser(context.Background(), &User{InternalID: "1", ExternalID: "100"}))
	u, err := d.FindUserByExternalID(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, "1", u.InternalID)
}

func TestMigrateTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.db")
	for range 2 {
		d, err := OpenSQL(Options{Driver: DriverSQLite, DSN: path, Migrate: true})
		require.NoError(t, err)
		require.NoError(t, d.Close())
	}
}

func TestMySQLSchemaDialect(t *testing.T) {
	stmts := schemaFor(DriverMySQL)
	require.Len(t, stmts, len(sqliteSchema))
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, ";", "one statement per Exec")
		assert.NotContains(t, stmt, "TEXT PRIMARY KEY")
		assert.NotContains(t, stmt, "TEXT NOT NULL")
		if strings.HasPrefix(stmt, "CREATE INDEX") {
			assert.NotContains(t, stmt, "IF NOT EXISTS")
		}
	}
	for _, stmt := range schemaFor(DriverSQLite) {
		assert.NotContains(t, stmt, ";")
	}
}

func TestExistingIndex(t *testing.T) {
	dup := &mysql.MySQLError{Number: mysqlDuplicateKeyName, Message: "Duplicate key name 'idx_code_bot_id'"}
	assert.True(t, existingIndex(dup))
	assert.True(t, existingIndex(fmt.Errorf("exec: %w", dup)))
	assert.False(t, existingIndex(&mysql.MySQLError{Number: 1050}))
	assert.False(t, existingIndex(errors.New("no such table")))
}

func TestOpenSQLUnsupportedDriver(t *testing.T) {
	_, err := OpenSQL(Options{Driver: "postgres", DSN: "x"})
	assert.Error(t, err)
}

func TestBase64Codec(t *testing.T) {
	assert.Equal(t, "aGVsbG8gd29ybGQ=", Base64Codec{}.Encode([]byte("hello world")))
	assert.Equal(t, "", Base64Codec{}.Encode(nil))
}

func TestWorkerCommandEmpty(t *testing.T) {
	w := &Worker{}
	cmd, args := w.Command()
	assert.Empty(t, cmd)
	assert.Nil(t, args)
}
