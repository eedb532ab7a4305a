package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/bililive"
)

// websocketTransport sends each frame as one binary message and treats each
// inbound message as one frame or one compressed batch.
type websocketTransport struct {
	kind      bililive.TransportKind
	conn      *websocket.Conn
	ioTimeout time.Duration
	writeMu   sync.Mutex
	closed    atomic.Bool
}

func dialWebsocket(ctx context.Context, kind bililive.TransportKind, url string, dialTimeout, ioTimeout time.Duration, tlsConfig *tls.Config) (Transport, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		TLSClientConfig:  tlsConfig,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil || errors.Is(err, websocket.ErrBadHandshake) {
			status := 0
			if resp != nil {
				status = resp.StatusCode
				resp.Body.Close()
			}
			return nil, newError(ErrHandshakeRejected, "dial "+url, fmt.Errorf("status %d: %w", status, err))
		}
		return nil, newError(ErrUnreachable, "dial "+url, err)
	}

	return newWebsocketTransport(kind, conn, ioTimeout), nil
}

func newWebsocketTransport(kind bililive.TransportKind, conn *websocket.Conn, ioTimeout time.Duration) *websocketTransport {
	return &websocketTransport{
		kind:      kind,
		conn:      conn,
		ioTimeout: ioTimeout,
	}
}

func (t *websocketTransport) Kind() bililive.TransportKind {
	return t.kind
}

// ReadFrame returns the next data message. It must not be called concurrently with itself.
func (t *websocketTransport) ReadFrame() ([]byte, error) {
	t.conn.SetReadDeadline(time.Now().Add(t.ioTimeout))
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, ioError("read", err, t.closed.Load())
	}
	return data, nil
}

func (t *websocketTransport) WriteFrame(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return newError(ErrClosed, "write", nil)
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.ioTimeout))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return ioError("write", err, t.closed.Load())
	}
	return nil
}

// Close sends a close message and closes the connection. It is idempotent.
func (t *websocketTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Send close message
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage, message, deadline)

	return t.conn.Close()
}
