// ABOUTME: Tests for the bot-manager command helpers
// ABOUTME: Covers directory seeding, local URLs and the color log handler

package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bot-manager/internal/auth"
	"github.com/2389/bot-manager/internal/directory"
)

const seedYAML = `
users:
  - id: iu1
    external_id: u1
    workers:
      - id: iw1
        external_id: "12345"
        name: helper
        run_command: node app.js
        deployment: d1
        credential: hunter2
        code:
          - filename: app.js
            directory: src
            source: console.log("hi")
      - external_id: "777"
        run_command: python bot.py
        deployment: d2
`

func TestSeedDirectory(t *testing.T) {
	ctx := context.Background()
	dir, err := directory.OpenSQL(directory.Options{
		Driver:  directory.DriverSQLite,
		DSN:     ":memory:",
		Migrate: true,
	})
	require.NoError(t, err)
	defer dir.Close()

	n, err := seed(ctx, dir, []byte(seedYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	u, err := dir.FindUserByExternalID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "iu1", u.InternalID)

	w, err := dir.FindWorkerForUser(ctx, "iu1", "12345")
	require.NoError(t, err)
	assert.Equal(t, "iw1", w.InternalID)
	assert.NoError(t, auth.VerifyCredential(w.CredentialHash, "hunter2"))
	assert.Error(t, auth.VerifyCredential(w.CredentialHash, "wrong"))

	other, err := dir.FindWorkerForUser(ctx, "iu1", "777")
	require.NoError(t, err)
	assert.NotEmpty(t, other.InternalID)
	assert.Empty(t, other.CredentialHash)

	code, err := dir.ListCodeArtifacts(ctx, "iw1")
	require.NoError(t, err)
	require.Len(t, code, 1)
	assert.Equal(t, "src", code[0].Directory)
	assert.Equal(t, []byte(`console.log("hi")`), code[0].Contents)
}

func TestSeedRejectsBadYAML(t *testing.T) {
	_, err := seed(context.Background(), nil, []byte("users: [::"))
	assert.Error(t, err)
}

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/health", localURL(":8080", "/health"))
	assert.Equal(t, "http://10.0.0.1:80/api/workers", localURL("10.0.0.1:80", "/api/workers"))
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "registry").Info("=== BOT CONNECTED ===", "worker_id", "iw1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "=== BOT CONNECTED ===")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "worker_id=")
	assert.Contains(t, out, "iw1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
