package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_SendRequiresActive(t *testing.T) {
	s := NewSession(newFakeTransport(), "c1")
	assert.Equal(t, StateUnauthenticated, s.State())
	assert.ErrorIs(t, s.Status(), ErrNotConnected)
}

func TestSession_OutboundHelpers(t *testing.T) {
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")

	require.NoError(t, s.Mkdir("src"))
	require.NoError(t, s.Rmdir("old"))
	require.NoError(t, s.Update("app.js", "aGk="))
	require.NoError(t, s.Delete("tmp.txt"))
	require.NoError(t, s.Reload())
	require.NoError(t, s.Restart())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Regenerate())
	require.NoError(t, s.Kill())
	require.NoError(t, s.Execute("npm install"))
	require.NoError(t, s.Status())
	require.NoError(t, s.Command("node", "app.js", "--port", "80"))

	assert.Equal(t, []string{
		"mkdir src",
		"rmdir old",
		"update app.js aGk=",
		"delete tmp.txt",
		"reload",
		"restart",
		"start",
		"stop",
		"regenerate",
		"kill",
		"execute npm install",
		"status",
		"command node app.js --port 80",
	}, tr.Frames())
}

func TestSession_SendErrorWrapped(t *testing.T) {
	s, tr := activeSession(t, NewRegistry(nil, nil), "iw1")
	tr.sendErr = errBoom

	err := s.Reload()
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "reload")
}

func TestSession_PendingSendDoesNotBlockDetach(t *testing.T) {
	r := NewRegistry(nil, nil)
	s, tr := activeSession(t, r, "iw1")
	tr.gate = make(chan struct{})
	tr.entered = make(chan struct{}, 1)

	sent := make(chan error, 1)
	go func() { sent <- s.Reload() }()
	<-tr.entered

	detached := make(chan bool, 1)
	go func() { detached <- r.Detach(s, tr) }()
	select {
	case ok := <-detached:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("detach waited for a pending send")
	}

	close(tr.gate)
	require.NoError(t, <-sent)
	assert.Equal(t, []string{"reload"}, tr.Frames())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestSession_InfoSnapshot(t *testing.T) {
	s, _ := activeSession(t, NewRegistry(nil, nil), "iw1")
	info := s.Info()

	assert.Equal(t, "iw1", info.InternalWorkerID)
	assert.Equal(t, "bot-iw1", info.WorkerName)
	assert.Equal(t, "dep-iw1", info.Deployment)
	assert.Equal(t, "10.0.0.1", info.Address)
	assert.Equal(t, "active", info.State)
	assert.Equal(t, "conn-iw1", info.ConnID)
}
