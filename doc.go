// Package bililive is a long-lived client for a live-streaming service's
// danmaku (live chat) feed.
//
// A Room keeps a persistent session with the room's danmaku server over a raw
// stream socket, WebSocket or WebSocket over TLS, decodes the service's
// length-prefixed binary frames (including zlib and brotli compressed
// batches), and delivers typed events to registered handlers. Network
// failures are detected by a heartbeat and a read deadline and followed by
// an automatic reconnect.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/bililive"
//	    "github.com/luciancaetano/bililive/event"
//	    "github.com/luciancaetano/bililive/room"
//	)
//
//	r, err := room.New(room.DefaultConfig(21452505),
//	    room.WithTransport(bililive.TransportWSS))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r.OnEvent(event.KindChatMessage, func(ev event.Event) {
//	    msg := ev.Data.(*event.ChatMessage)
//	    fmt.Printf("%s: %s\n", msg.Username, msg.Text)
//	})
//	r.OnPopularity(func(n uint32) {
//	    fmt.Println("popularity", n)
//	})
//
//	if err := r.Connect(ctx); err != nil {
//	    log.Println("first attempt failed, reconnecting:", err)
//	}
//	defer r.Disconnect(context.Background())
//
// # Frame Format
//
// Every frame starts with a 16-byte big-endian header:
//
//	[0:4]   total length (header + payload)
//	[4:6]   header length (16)
//	[6:8]   protocol version: 0 plain, 1 popularity, 2 zlib batch, 3 brotli batch
//	[8:12]  operation: 2 heartbeat, 3 heartbeat ack, 5 command, 7 auth, 8 auth ack
//	[12:16] sequence id
//
// A batch payload decompresses to further frames laid out back to back.
//
// # Delivery Order
//
// Handlers of one session run on its receive goroutine, one at a time. For
// each inbound unit they fire in this order: popularity, then raw followed by
// the typed or unknown event for every command document, then server
// heartbeat. A panicking handler is recovered and logged; the remaining
// handlers still run.
//
// # Connection Lifecycle
//
// Connect probes the network, resolves the room to a danmaku server, dials
// it, and sends the auth handshake. Any failure fires ConnectionFailed with a
// human-readable message and, unless auto-reconnect is disabled, schedules a
// new attempt after the reconnect delay. Disconnect stops everything,
// including a pending reconnect, and may be called from a handler.
//
// # Observability
//
// Rooms log through log/slog and expose Prometheus collectors when given a
// registerer. Each connection attempt runs inside an OpenTelemetry span.
// The cmd/bililive command watches a room from the terminal and can serve
// /metrics and /healthz.
package bililive
