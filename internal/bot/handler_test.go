// ABOUTME: Tests for inbound frame handling: logs, status reports and code pulls.
// ABOUTME: Uses the in-memory bus and mock directory.

package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bot-manager/internal/bus"
	"github.com/2389/bot-manager/internal/directory"
	"github.com/2389/bot-manager/internal/frame"
)

func newTestHandler(t *testing.T) (*Handler, *bus.Memory, *directory.MockDirectory) {
	t.Helper()
	b := bus.NewMemory(nil)
	dir := directory.NewMockDirectory()
	h := NewHandler(HandlerConfig{Bus: b, Directory: dir})
	return h, b, dir
}

func TestHandler_LogCappedAt101(t *testing.T) {
	h, b, _ := newTestHandler(t)
	s, _ := activeSession(t, NewRegistry(nil, nil), "iw1")

	for i := 0; i < 150; i++ {
		h.Handle(t.Context(), s, frame.New(frame.Log, fmt.Sprintf("line %d", i)))
	}

	hist, err := b.History(t.Context(), "xandium-bot-log:iw1")
	require.NoError(t, err)
	require.Len(t, hist, 101)
	assert.Equal(t, "line 149", hist[0])
	assert.Equal(t, "line 49", hist[100])
}

func TestHandler_LogPublishes(t *testing.T) {
	h, b, _ := newTestHandler(t)
	s, _ := activeSession(t, NewRegistry(nil, nil), "iw1")

	got := make(chan string, 1)
	require.NoError(t, b.Subscribe(t.Context(), "xandium-bot-log:iw1", func(_ context.Context, p []byte) {
		got <- string(p)
	}))

	h.Handle(t.Context(), s, frame.Frame{Verb: frame.Log, Payload: "hello  world"})

	select {
	case msg := <-got:
		assert.Equal(t, "hello  world", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log publish")
	}
}

func TestHandler_StatusReports(t *testing.T) {
	tests := []struct {
		verb string
		want string
	}{
		{frame.Running, StatusOnline},
		{frame.Offline, StatusOffline},
		{frame.Starting, StatusStarting},
	}

	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			h, b, _ := newTestHandler(t)
			s, _ := activeSession(t, NewRegistry(nil, nil), "iw1")

			h.Handle(t.Context(), s, frame.New(tt.verb))

			v, err := b.Field(t.Context(), "bots:dep-iw1", bus.StatusField)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestHandler_PullAll(t *testing.T) {
	h, _, dir := newTestHandler(t)
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")

	dir.AddArtifact(directory.Artifact{ID: "c1", WorkerID: "iw1", Filename: "app.js", Directory: "src", Contents: []byte("console.log(1)")})
	dir.AddArtifact(directory.Artifact{ID: "c2", WorkerID: "iw1", Filename: "package.json", Directory: ".", Contents: []byte("{}")})
	dir.AddArtifact(directory.Artifact{ID: "c3", WorkerID: "other", Filename: "x", Directory: "y", Contents: []byte("z")})

	h.Handle(t.Context(), s, frame.New(frame.PullAll))

	enc := base64.StdEncoding.EncodeToString
	assert.Equal(t, []string{
		"mkdir src",
		"update app.js " + enc([]byte("console.log(1)")),
		"mkdir .",
		"update package.json " + enc([]byte("{}")),
		"pullend",
	}, tr.Frames())
}

func TestHandler_PullAllEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t)
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")

	err := h.PullAll(t.Context(), s)
	assert.ErrorIs(t, err, ErrEmptyArtifactSet)
	assert.Equal(t, []string{"ERROR"}, tr.Frames())
}

func TestHandler_PullAllDirectoryErrorAnswersError(t *testing.T) {
	h, _, dir := newTestHandler(t)
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")
	dir.Err = errBoom

	err := h.PullAll(t.Context(), s)
	assert.ErrorIs(t, err, ErrEmptyArtifactSet)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"ERROR"}, tr.Frames())
}

func TestHandler_SendArtifact(t *testing.T) {
	h, _, dir := newTestHandler(t)
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")
	dir.AddArtifact(directory.Artifact{ID: "c1", WorkerID: "iw1", Filename: "app.js", Directory: "src", Contents: []byte("hi")})

	require.NoError(t, h.SendArtifact(t.Context(), s, "c1"))
	assert.Equal(t, []string{"update app.js aGk="}, tr.Frames())

	assert.ErrorIs(t, h.SendArtifact(t.Context(), s, "missing"), directory.ErrNotFound)
}

func TestHandler_IgnoresUnknownAndRepeatedLogin(t *testing.T) {
	h, _, _ := newTestHandler(t)
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")

	h.Handle(t.Context(), s, frame.New("dance"))
	h.Handle(t.Context(), s, frame.New(frame.Login, "u1", "12345"))

	assert.Empty(t, tr.Frames())
	assert.Equal(t, StateActive, s.State())
}
