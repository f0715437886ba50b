package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_TickPingsOnlyActive(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, activeTr := activeSession(t, r, "iw1")
	gone, goneTr := activeSession(t, r, "iw2")
	require.True(t, r.Detach(gone, goneTr))

	// A rejected candidate never reaches the registry.
	rejectedTr := newFakeTransport()
	candidate(t, "iw3", "node app.js", "", rejectedTr).reject()

	hb := NewHeartbeat(r, 0, nil, nil)
	assert.Equal(t, 1, hb.Tick())

	assert.Equal(t, []string{"status"}, activeTr.Frames())
	assert.Empty(t, goneTr.Frames())
	assert.Empty(t, rejectedTr.Frames())
}

func TestHeartbeat_SendFailureNotCounted(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, tr := activeSession(t, r, "iw1")
	tr.sendErr = errBoom

	assert.Equal(t, 0, NewHeartbeat(r, time.Second, nil, nil).Tick())
}

func TestHeartbeat_RunTicksUntilCancelled(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, tr := activeSession(t, r, "iw1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewHeartbeat(r, 10*time.Millisecond, nil, nil).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(tr.Frames()) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}

func TestHeartbeat_DefaultInterval(t *testing.T) {
	hb := NewHeartbeat(NewRegistry(nil, nil), -1, nil, nil)
	assert.Equal(t, DefaultHeartbeatInterval, hb.interval)
}
