package bililive

import (
	"context"
	"fmt"
	"time"

	"github.com/luciancaetano/bililive/event"
)

// Room is a live-chat session for one broadcast room.
//
// A Room connects to the room's danmaku server, keeps the session alive with
// heartbeats and delivers decoded events to registered handlers. Handlers for
// events of one session run on the session's receive goroutine, one at a time,
// in wire arrival order.
//
// Example usage:
//
//	r, err := room.New(room.DefaultConfig(21452505))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r.OnEvent(event.KindChatMessage, func(ev event.Event) {
//	    msg := ev.Data.(*event.ChatMessage)
//	    fmt.Printf("%s: %s\n", msg.Username, msg.Text)
//	})
//
//	r.Connect(ctx)
type Room interface {
	// Connect runs one connection attempt: probe, resolve, dial, handshake.
	//
	// On success the heartbeat and receive loops are running; Connected
	// handlers fire on the receive goroutine before any event. On failure
	// ConnectionFailed handlers fire and, when auto-reconnect is enabled, a new
	// attempt is scheduled in the background. The returned error describes the
	// failed attempt either way.
	//
	// Connect is a no-op while an attempt is connecting or live. It must not be
	// called from a handler.
	Connect(ctx context.Context) error

	// Disconnect stops the loops, closes the transport and cancels any pending
	// reconnect. It is idempotent and safe to call from any handler.
	Disconnect(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// OnConnected registers a handler fired after a successful handshake.
	OnConnected(handler func())

	// OnDisconnected registers a handler fired when a live or connecting
	// session is torn down.
	OnDisconnected(handler func())

	// OnConnectionFailed registers a handler fired with a human-readable
	// message whenever an attempt or a live session fails.
	OnConnectionFailed(handler func(message string))

	// OnServerHeartbeat registers a handler fired for each server acknowledgement.
	OnServerHeartbeat(handler func())

	// OnPopularity registers a handler fired with the current viewer count.
	OnPopularity(handler func(count uint32))

	// OnEvent registers a handler for one event kind.
	//
	// event.KindRaw fires for every command document, event.KindUnknown for
	// documents no classifier recognised, and every other kind for the
	// matching typed event.
	OnEvent(kind event.Kind, handler event.Handler)

	// SendMessage posts a chat message to the room. Requires a cookie.
	SendMessage(ctx context.Context, text string) Result

	// ChangeRoomName renames the room. Requires a cookie.
	ChangeRoomName(ctx context.Context, name string) Result
}

// State is the lifecycle state of a Room.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateLive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TransportKind selects the carrier used to reach the danmaku server.
type TransportKind int

const (
	TransportSocket TransportKind = iota
	TransportWS
	TransportWSS
)

func (k TransportKind) String() string {
	switch k {
	case TransportSocket:
		return "tcp"
	case TransportWS:
		return "ws"
	case TransportWSS:
		return "wss"
	default:
		return fmt.Sprintf("transport(%d)", int(k))
	}
}

// ParseTransportKind parses "tcp", "ws" or "wss".
func ParseTransportKind(s string) (TransportKind, error) {
	switch s {
	case "tcp", "socket":
		return TransportSocket, nil
	case "ws":
		return TransportWS, nil
	case "wss":
		return TransportWSS, nil
	default:
		return 0, fmt.Errorf("%s: %q", ErrUnsupportedTransport, s)
	}
}

// Endpoint is a resolved danmaku server for a room.
type Endpoint struct {
	// RoomID is the canonical room id, which may differ from the short id
	// users type.
	RoomID uint64
	// AnchorUID is the streamer's user id.
	AnchorUID uint64
	Host      string
	Port      int
	WsPort    int
	WssPort   int
	// Token is the session key sent in the auth handshake.
	Token string
}

// Resolver maps a user-facing room id to a danmaku server endpoint.
type Resolver interface {
	Resolve(ctx context.Context, roomID uint64) (Endpoint, error)
}

// OnlineUserFetcher fetches the current online-viewer snapshot of a room.
type OnlineUserFetcher interface {
	FetchOnlineUsers(ctx context.Context, ep Endpoint, cookie string) (*event.OnlineUser, error)
}

// Result is the outcome of a cookie-gated write action.
type Result struct {
	Success bool
	Message string
}

// Protocol defaults.
const (
	DefaultReconnectDelay    = 5000 * time.Millisecond
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIOTimeout         = DefaultHeartbeatInterval + time.Second
	DefaultProbeAddr         = "live.bilibili.com:443"
	DefaultAPIBaseURL        = "https://api.live.bilibili.com"
	HeartbeatPayload         = "[object Object]"
	ClientVersion            = "1.12.0"
)
