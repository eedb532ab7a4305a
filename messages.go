package bililive

// Connection failure messages passed to ConnectionFailed handlers.
const (
	MsgNetworkUnreachable = "network unreachable"
	MsgRoomNotFound       = "room not found"
	MsgServerListFailed   = "failed to fetch danmaku server list"
	MsgDialFailed         = "failed to connect to danmaku server"
	MsgHandshakeFailed    = "failed to send auth handshake"
	MsgHeartbeatFailed    = "failed to send heartbeat"
	MsgReadFailed         = "failed to read from danmaku server, disconnecting"
)

// Standard error messages
const (
	ErrUnsupportedTransport = "unsupported transport"
	ErrInvalidRoomID        = "room id must be positive"
	ErrInvalidDelay         = "reconnect delay must not be negative"
	ErrInvalidInterval      = "heartbeat interval and I/O timeout must be positive"
	ErrNotLive              = "session is not live"
	ErrAttemptAborted       = "connection attempt aborted"
	ErrSendNotSupported     = "sending chat messages is not supported"
)
