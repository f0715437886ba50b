// ABOUTME: Tests for the frame codec.
// ABOUTME: Covers verb/payload splitting, opaque payloads and login decoding.

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		verb    string
		payload string
	}{
		{"bare verb", "reload", "reload", ""},
		{"verb with args", "login 1 2 secret", "login", "1 2 secret"},
		{"opaque payload keeps spacing", "log  two  spaces", "log", " two  spaces"},
		{"trailing newline", "status\r\n", "status", ""},
		{"leading whitespace", "  running", "running", ""},
		{"tab after verb", "log\tbooted fine", "log", "booted fine"},
		{"tab inside payload", "log a\tb", "log", "a\tb"},
		{"leading tab", "\tpullall", "pullall", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.verb, f.Verb)
			assert.Equal(t, tt.payload, f.Payload)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	for _, line := range []string{"", "   ", "\n"} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrEmptyFrame, "line %q", line)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "pullend", Format(PullEnd))
	assert.Equal(t, "mkdir src/lib", Format(Mkdir, "src/lib"))
	assert.Equal(t, "command node app.js --port 3000", Format(Command, "node", "app.js", "--port", "3000"))
	assert.Equal(t, "update a.txt hello world", New(Update, "a.txt", "hello world").String())
}

func TestFields(t *testing.T) {
	f, err := Parse("update 42   7")
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "7"}, f.Fields())
}

func TestParseLogin(t *testing.T) {
	t.Run("full login", func(t *testing.T) {
		f, _ := Parse("login u1 w1 secret")
		req, err := ParseLogin(f)
		require.NoError(t, err)
		assert.Equal(t, LoginRequest{UserID: "u1", WorkerRef: "w1", Credential: "secret"}, req)
	})

	t.Run("credential optional", func(t *testing.T) {
		f, _ := Parse("login u1 w1")
		req, err := ParseLogin(f)
		require.NoError(t, err)
		assert.Empty(t, req.Credential)
	})

	t.Run("missing worker", func(t *testing.T) {
		f, _ := Parse("login u1")
		_, err := ParseLogin(f)
		assert.ErrorIs(t, err, ErrMalformedLogin)
	})

	t.Run("wrong verb", func(t *testing.T) {
		f, _ := Parse("log u1 w1")
		_, err := ParseLogin(f)
		assert.ErrorIs(t, err, ErrMalformedLogin)
	})
}
