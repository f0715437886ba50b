// ABOUTME: Websocket transport for bot sessions with dedicated reader and writer goroutines.
// ABOUTME: Sends queue for the writer and never touch the network; closing performs the close handshake.

package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/bot-manager/internal/frame"
)

// Websocket timing and buffer limits.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	closeGrace      = 2 * time.Second
	maxFrameSize    = 16 << 20
	sendBufferSize  = 256
	sendTimeout     = writeWait
	inboundBufSize  = 16
	closeReason     = "Server has gone away"
	closeStatusCode = websocket.CloseNormalClosure
)

// Transport errors
var (
	errTransportClosed = errors.New("transport closed")
	errSendTimeout     = errors.New("send queue stalled")
)

// wsTransport adapts a websocket connection to bot.Transport.
type wsTransport struct {
	conn    *websocket.Conn
	send    chan string
	inbound chan frame.Frame
	closing chan struct{}
	closed  chan struct{}

	closeOnce sync.Once
	endOnce   sync.Once
	logger    *slog.Logger
}

func newWSTransport(conn *websocket.Conn, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		conn:    conn,
		send:    make(chan string, sendBufferSize),
		inbound: make(chan frame.Frame, inboundBufSize),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
		logger:  logger,
	}
}

// start launches the reader and writer goroutines.
func (t *wsTransport) start() {
	go t.readPump()
	go t.writePump()
}

// Send enqueues a frame for the writer goroutine. When the queue is full it
// waits for room until the transport closes or sendTimeout passes.
func (t *wsTransport) Send(f string) error {
	select {
	case <-t.closing:
		return errTransportClosed
	case <-t.closed:
		return errTransportClosed
	default:
	}

	select {
	case t.send <- f:
		return nil
	default:
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case t.send <- f:
		return nil
	case <-t.closing:
		return errTransportClosed
	case <-t.closed:
		return errTransportClosed
	case <-timer.C:
		return errSendTimeout
	}
}

// Close starts the close handshake. Frames already queued are written first.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closing) })
	return nil
}

// Closed is closed once the inbound frame stream has ended.
func (t *wsTransport) Closed() <-chan struct{} {
	return t.closed
}

// Inbound yields parsed frames until the peer goes away.
func (t *wsTransport) Inbound() <-chan frame.Frame {
	return t.inbound
}

func (t *wsTransport) endStream() {
	t.endOnce.Do(func() {
		close(t.inbound)
		close(t.closed)
	})
}

// readPump turns websocket messages into frames.
func (t *wsTransport) readPump() {
	defer t.endStream()

	t.conn.SetReadLimit(maxFrameSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				t.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := frame.Parse(string(data))
		if err != nil {
			continue
		}
		t.inbound <- f
	}
}

// writePump is the only goroutine that writes to the connection.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case f := <-t.send:
			if err := t.write(f); err != nil {
				t.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.closing:
			t.flush()
			msg := websocket.FormatCloseMessage(closeStatusCode, closeReason)
			_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			select {
			case <-t.closed:
			case <-time.After(closeGrace):
			}
			return

		case <-t.closed:
			return
		}
	}
}

// flush writes any frames still queued.
func (t *wsTransport) flush() {
	for {
		select {
		case f := <-t.send:
			if err := t.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(f string) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(f))
}
