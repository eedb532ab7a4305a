package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/internal/protocol"
)

// socketTransport frames a plain stream connection using the length prefix.
type socketTransport struct {
	conn      net.Conn
	ioTimeout time.Duration
	header    []byte
	writeMu   sync.Mutex
	closed    atomic.Bool
}

func dialSocket(ctx context.Context, addr string, dialTimeout, ioTimeout time.Duration) (Transport, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(ErrUnreachable, "dial "+addr, err)
	}
	return newSocketTransport(conn, ioTimeout), nil
}

func newSocketTransport(conn net.Conn, ioTimeout time.Duration) *socketTransport {
	return &socketTransport{
		conn:      conn,
		ioTimeout: ioTimeout,
		header:    make([]byte, protocol.HeaderLength),
	}
}

func (t *socketTransport) Kind() bililive.TransportKind {
	return bililive.TransportSocket
}

// ReadFrame reads exactly one frame. It must not be called concurrently with itself.
func (t *socketTransport) ReadFrame() ([]byte, error) {
	t.conn.SetReadDeadline(time.Now().Add(t.ioTimeout))
	if _, err := io.ReadFull(t.conn, t.header); err != nil {
		return nil, ioError("read header", err, t.closed.Load())
	}

	total, _ := protocol.FrameLength(t.header)
	if total < protocol.HeaderLength || total > protocol.MaxFrameSize {
		// A bad length prefix leaves the stream unsynchronised.
		return nil, newError(ErrReset, "read header", protocol.ErrMalformed)
	}

	frame := make([]byte, total)
	copy(frame, t.header)
	if _, err := io.ReadFull(t.conn, frame[protocol.HeaderLength:]); err != nil {
		return nil, ioError("read body", err, t.closed.Load())
	}
	return frame, nil
}

func (t *socketTransport) WriteFrame(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return newError(ErrClosed, "write", nil)
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.ioTimeout))
	if _, err := t.conn.Write(frame); err != nil {
		return ioError("write", err, t.closed.Load())
	}
	return nil
}

// Close is idempotent; only the first call closes the connection.
func (t *socketTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}
