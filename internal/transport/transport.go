package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/bililive"
)

// Transport carries raw frames to and from a danmaku server.
//
// ReadFrame and WriteFrame may be called from different goroutines. Close may
// be called concurrently with both and unblocks a pending ReadFrame.
type Transport interface {
	Kind() bililive.TransportKind

	// ReadFrame returns the bytes of the next inbound unit: one frame for the
	// stream socket, one message (a frame or a compressed batch) for WebSocket.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one encoded frame.
	WriteFrame(frame []byte) error

	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, kind bililive.TransportKind, ep bililive.Endpoint) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, kind bililive.TransportKind, ep bililive.Endpoint) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, kind bililive.TransportKind, ep bililive.Endpoint) (Transport, error) {
	return f(ctx, kind, ep)
}

// NetDialer opens real network transports.
type NetDialer struct {
	// IOTimeout bounds every read and write. Default bililive.DefaultIOTimeout.
	IOTimeout time.Duration
	// DialTimeout bounds connection setup, including the WebSocket upgrade.
	// Default 10s.
	DialTimeout time.Duration
	// TLSConfig is used for wss. Nil uses the system defaults.
	TLSConfig *tls.Config
}

// NewNetDialer returns a NetDialer with the given I/O timeout.
func NewNetDialer(ioTimeout time.Duration) *NetDialer {
	return &NetDialer{IOTimeout: ioTimeout}
}

// Dial connects to ep using the carrier selected by kind.
func (d *NetDialer) Dial(ctx context.Context, kind bililive.TransportKind, ep bililive.Endpoint) (Transport, error) {
	addr, err := Address(kind, ep)
	if err != nil {
		return nil, err
	}

	switch kind {
	case bililive.TransportSocket:
		return dialSocket(ctx, addr, d.dialTimeout(), d.ioTimeout())
	case bililive.TransportWS, bililive.TransportWSS:
		return dialWebsocket(ctx, kind, addr, d.dialTimeout(), d.ioTimeout(), d.TLSConfig)
	default:
		return nil, newError(ErrUnsupportedKind, "dial", nil)
	}
}

func (d *NetDialer) ioTimeout() time.Duration {
	if d.IOTimeout <= 0 {
		return bililive.DefaultIOTimeout
	}
	return d.IOTimeout
}

func (d *NetDialer) dialTimeout() time.Duration {
	if d.DialTimeout <= 0 {
		return 10 * time.Second
	}
	return d.DialTimeout
}

// Address returns the dial target for kind: host:port for the stream socket,
// ws://host:wsport/sub or wss://host:wssport/sub for WebSocket.
func Address(kind bililive.TransportKind, ep bililive.Endpoint) (string, error) {
	switch kind {
	case bililive.TransportSocket:
		return net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)), nil
	case bililive.TransportWS:
		return "ws://" + net.JoinHostPort(ep.Host, strconv.Itoa(ep.WsPort)) + "/sub", nil
	case bililive.TransportWSS:
		return "wss://" + net.JoinHostPort(ep.Host, strconv.Itoa(ep.WssPort)) + "/sub", nil
	default:
		return "", newError(ErrUnsupportedKind, "address", fmt.Errorf("%s", kind))
	}
}

// Transport error kinds. An *Error always matches exactly one of these with errors.Is.
var (
	ErrUnreachable       = errors.New("transport unreachable")
	ErrHandshakeRejected = errors.New("transport handshake rejected")
	ErrTimeout           = errors.New("transport timeout")
	ErrReset             = errors.New("transport reset")
	ErrClosed            = errors.New("transport closed")
	ErrUnsupportedKind   = errors.New(bililive.ErrUnsupportedTransport)
)

// Error is a failure of a transport operation.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ioError maps a read or write failure onto a transport error kind.
func ioError(op string, err error, closed bool) error {
	if closed || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return newError(ErrClosed, op, err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(ErrTimeout, op, err)
	}

	return newError(ErrReset, op, err)
}
