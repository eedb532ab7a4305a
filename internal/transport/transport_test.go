package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/internal/protocol"
)

// listenTCP starts a TCP listener that hands each accepted conn to serve
func listenTCP(t *testing.T, serve func(net.Conn)) bililive.Endpoint {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return bililive.Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

// wsServer starts an httptest server that upgrades /sub and hands the conn to serve
func wsServer(t *testing.T, serve func(*websocket.Conn)) bililive.Endpoint {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sub" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)

	host, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	p, _ := strconv.Atoi(port)
	return bililive.Endpoint{Host: host, WsPort: p}
}

// TestAddress tests endpoint formatting per transport kind
func TestAddress(t *testing.T) {
	t.Parallel()

	ep := bililive.Endpoint{Host: "example.com", Port: 2243, WsPort: 2244, WssPort: 443}

	tests := []struct {
		kind bililive.TransportKind
		want string
	}{
		{bililive.TransportSocket, "example.com:2243"},
		{bililive.TransportWS, "ws://example.com:2244/sub"},
		{bililive.TransportWSS, "wss://example.com:443/sub"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()

			got, err := Address(tt.kind, ep)
			if err != nil {
				t.Fatalf("Address() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := Address(bililive.TransportKind(42), ep); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("unknown kind error = %v, want %v", err, ErrUnsupportedKind)
	}
}

// TestSocketReadWrite tests framing over a plain TCP connection
func TestSocketReadWrite(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 1)
	ep := listenTCP(t, func(conn net.Conn) {
		defer conn.Close()

		header := make([]byte, protocol.HeaderLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:4])
		body := make([]byte, n-protocol.HeaderLength)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		received <- append(header, body...)

		// Reply with two frames written in one call to exercise stream splitting
		reply := append(protocol.Encode(protocol.OpAuthAck, 1, `{"code":0}`), protocol.Encode(protocol.OpHeartbeatAck, 2, "\x00\x00\x01\x00")...)
		conn.Write(reply)
		time.Sleep(100 * time.Millisecond)
	})

	tr, err := NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportSocket, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer tr.Close()

	if tr.Kind() != bililive.TransportSocket {
		t.Errorf("Kind() = %v, want %v", tr.Kind(), bililive.TransportSocket)
	}

	auth := protocol.Encode(protocol.OpAuth, 1, `{"key":"k"}`)
	if err := tr.WriteFrame(auth); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, auth) {
			t.Errorf("server received %v, want %v", got, auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}

	for _, wantOp := range []protocol.Operation{protocol.OpAuthAck, protocol.OpHeartbeatAck} {
		data, err := tr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() failed: %v", err)
		}
		f, n, err := protocol.DecodeOne(data)
		if err != nil {
			t.Fatalf("DecodeOne() failed: %v", err)
		}
		if n != len(data) {
			t.Errorf("ReadFrame() returned %d bytes for a %d byte frame", len(data), n)
		}
		if f.Operation != wantOp {
			t.Errorf("operation = %v, want %v", f.Operation, wantOp)
		}
	}
}

// TestSocketReadTimeout tests that a silent peer surfaces as a timeout
func TestSocketReadTimeout(t *testing.T) {
	t.Parallel()

	ep := listenTCP(t, func(conn net.Conn) {
		time.Sleep(time.Second)
		conn.Close()
	})

	tr, err := NewNetDialer(50*time.Millisecond).Dial(context.Background(), bililive.TransportSocket, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer tr.Close()

	if _, err := tr.ReadFrame(); !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadFrame() error = %v, want %v", err, ErrTimeout)
	}
}

// TestSocketPeerClose tests that an orderly peer close surfaces as a reset
func TestSocketPeerClose(t *testing.T) {
	t.Parallel()

	ep := listenTCP(t, func(conn net.Conn) {
		conn.Close()
	})

	tr, err := NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportSocket, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer tr.Close()

	if _, err := tr.ReadFrame(); !errors.Is(err, ErrReset) {
		t.Errorf("ReadFrame() error = %v, want %v", err, ErrReset)
	}
}

// TestSocketBadLength tests that an impossible length prefix ends the stream
func TestSocketBadLength(t *testing.T) {
	t.Parallel()

	ep := listenTCP(t, func(conn net.Conn) {
		bad := protocol.Encode(protocol.OpCommand, 0, "")
		binary.BigEndian.PutUint32(bad[:4], 3)
		conn.Write(bad)
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	})

	tr, err := NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportSocket, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer tr.Close()

	_, err = tr.ReadFrame()
	if !errors.Is(err, ErrReset) || !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("ReadFrame() error = %v, want reset wrapping malformed", err)
	}
}

// TestSocketCloseUnblocksRead tests that Close releases a blocked reader
func TestSocketCloseUnblocksRead(t *testing.T) {
	t.Parallel()

	ep := listenTCP(t, func(conn net.Conn) {
		time.Sleep(2 * time.Second)
		conn.Close()
	})

	tr, err := NewNetDialer(5*time.Second).Dial(context.Background(), bililive.TransportSocket, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.ReadFrame()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("ReadFrame() error = %v, want %v", err, ErrClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadFrame() still blocked after Close()")
	}

	if err := tr.WriteFrame(protocol.Encode(protocol.OpHeartbeat, 1, "")); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteFrame() after Close() = %v, want %v", err, ErrClosed)
	}
}

// TestSocketUnreachable tests dialing a port nobody listens on
func TestSocketUnreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ep := bililive.Endpoint{Host: "127.0.0.1", Port: port}
	_, err = NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportSocket, ep)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Dial() error = %v, want %v", err, ErrUnreachable)
	}

	var te *Error
	if !errors.As(err, &te) {
		t.Errorf("error %T is not a *Error", err)
	}
}

// TestWebsocketReadWrite tests one frame per message in both directions
func TestWebsocketReadWrite(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 1)
	ep := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data

		conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(protocol.OpAuthAck, 1, `{"code":0}`))
		conn.ReadMessage()
	})

	tr, err := NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportWS, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer tr.Close()

	if tr.Kind() != bililive.TransportWS {
		t.Errorf("Kind() = %v, want %v", tr.Kind(), bililive.TransportWS)
	}

	hb := protocol.Encode(protocol.OpHeartbeat, 1, bililive.HeartbeatPayload)
	if err := tr.WriteFrame(hb); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, hb) {
			t.Errorf("server received %v, want %v", got, hb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}

	data, err := tr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() failed: %v", err)
	}
	f, _, err := protocol.DecodeOne(data)
	if err != nil {
		t.Fatalf("DecodeOne() failed: %v", err)
	}
	if f.Operation != protocol.OpAuthAck {
		t.Errorf("operation = %v, want %v", f.Operation, protocol.OpAuthAck)
	}
}

// TestWebsocketHandshakeRejected tests a server that refuses the upgrade
func TestWebsocketHandshakeRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	host, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	p, _ := strconv.Atoi(port)

	_, err := NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportWS, bililive.Endpoint{Host: host, WsPort: p})
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Errorf("Dial() error = %v, want %v", err, ErrHandshakeRejected)
	}
}

// TestWebsocketPeerClose tests that a server close frame surfaces as a reset
func TestWebsocketPeerClose(t *testing.T) {
	t.Parallel()

	ep := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.Close()
	})

	tr, err := NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportWS, ep)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer tr.Close()

	if _, err := tr.ReadFrame(); !errors.Is(err, ErrReset) {
		t.Errorf("ReadFrame() error = %v, want %v", err, ErrReset)
	}
}

// TestWebsocketUnreachable tests dialing a WebSocket port nobody listens on
func TestWebsocketUnreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = NewNetDialer(time.Second).Dial(context.Background(), bililive.TransportWS, bililive.Endpoint{Host: "127.0.0.1", WsPort: port})
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Dial() error = %v, want %v", err, ErrUnreachable)
	}
}

// TestDialerFunc tests the function adapter
func TestDialerFunc(t *testing.T) {
	t.Parallel()

	called := false
	var d Dialer = DialerFunc(func(ctx context.Context, kind bililive.TransportKind, ep bililive.Endpoint) (Transport, error) {
		called = true
		return nil, newError(ErrUnreachable, "fake", nil)
	})

	if _, err := d.Dial(context.Background(), bililive.TransportSocket, bililive.Endpoint{}); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Dial() error = %v, want %v", err, ErrUnreachable)
	}
	if !called {
		t.Error("DialerFunc was not called")
	}
}
