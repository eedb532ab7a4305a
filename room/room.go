// Package room builds ready-to-use bililive.Room values.
package room

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/event"
	"github.com/luciancaetano/bililive/internal/dispatch"
	"github.com/luciancaetano/bililive/internal/metrics"
	"github.com/luciancaetano/bililive/internal/resolve"
	"github.com/luciancaetano/bililive/internal/session"
	"github.com/luciancaetano/bililive/internal/transport"
)

// Room implements bililive.Room on top of a session and a dispatcher.
type Room struct {
	cfg        Config
	logger     *slog.Logger
	session    *session.Session
	dispatcher *dispatch.Dispatcher
}

var _ bililive.Room = (*Room)(nil)

// New validates cfg, applies opts and returns an idle Room.
//
// Example:
//
//	r, err := room.New(room.DefaultConfig(21452505),
//	    room.WithTransport(bililive.TransportWSS),
//	    room.WithReconnectDelay(10*time.Second))
func New(cfg Config, opts ...Option) (*Room, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New(metrics.Config{
		Registry:    cfg.Registerer,
		ConstLabels: prometheus.Labels{"room_id": strconv.FormatUint(cfg.RoomID, 10)},
	})

	var api *resolve.Client
	if cfg.APIBaseURL != "" {
		api = resolve.New(cfg.APIBaseURL, resolve.WithLogger(logger))
	}
	if cfg.Resolver == nil {
		cfg.Resolver = api
	}
	if cfg.OnlineUsers == nil && api != nil {
		cfg.OnlineUsers = api
	}

	d := dispatch.New(dispatch.Config{
		Classifier:      cfg.Classifier,
		RefreshInterval: cfg.OnlineRefreshInterval,
		Logger:          logger,
		Metrics:         m,
	})

	s, err := session.New(session.Config{
		RoomID:               cfg.RoomID,
		Transport:            cfg.Transport,
		AutoReconnect:        cfg.AutoReconnect,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ProbeAddr:            cfg.ProbeAddr,
		Resolver:             cfg.Resolver,
		Dialer:               transport.NewNetDialer(cfg.IOTimeout),
		Dispatcher:           d,
		Logger:               logger,
		Metrics:              m,
	})
	if err != nil {
		return nil, err
	}

	r := &Room{
		cfg:        cfg,
		logger:     logger.With("room_id", cfg.RoomID),
		session:    s,
		dispatcher: d,
	}
	if cfg.Cookie != "" && cfg.OnlineUsers != nil {
		d.SetRefresh(r.fetchOnlineUsers)
	}
	return r, nil
}

// Connect starts a connection attempt. A failed first attempt still
// schedules reconnects when auto-reconnect is on.
func (r *Room) Connect(ctx context.Context) error {
	return r.session.Connect(ctx)
}

// Disconnect closes the connection and cancels pending reconnects.
func (r *Room) Disconnect(ctx context.Context) error {
	return r.session.Disconnect(ctx)
}

// State returns the lifecycle state of the room's session.
func (r *Room) State() bililive.State {
	return r.session.State()
}

// OnConnected registers a handler for a session going live.
func (r *Room) OnConnected(handler func()) {
	r.dispatcher.OnConnected(handler)
}

// OnDisconnected registers a handler for a session teardown.
func (r *Room) OnDisconnected(handler func()) {
	r.dispatcher.OnDisconnected(handler)
}

// OnConnectionFailed registers a handler for failed attempts.
func (r *Room) OnConnectionFailed(handler func(message string)) {
	r.dispatcher.OnConnectionFailed(handler)
}

// OnServerHeartbeat registers a handler for server heartbeat acks.
func (r *Room) OnServerHeartbeat(handler func()) {
	r.dispatcher.OnServerHeartbeat(handler)
}

// OnPopularity registers a handler for popularity counts.
func (r *Room) OnPopularity(handler func(count uint32)) {
	r.dispatcher.OnPopularity(handler)
}

// OnEvent registers a handler for one event kind.
func (r *Room) OnEvent(kind event.Kind, handler event.Handler) {
	r.dispatcher.OnEvent(kind, handler)
}

// SendMessage always fails: posting chat is not supported.
func (r *Room) SendMessage(ctx context.Context, text string) bililive.Result {
	r.logger.DebugContext(ctx, "send message rejected", "length", len(text))
	return bililive.Result{Success: false, Message: bililive.ErrSendNotSupported}
}

// ChangeRoomName always reports success without contacting the service.
func (r *Room) ChangeRoomName(ctx context.Context, name string) bililive.Result {
	r.logger.DebugContext(ctx, "change room name", "name", name)
	return bililive.Result{Success: true}
}

func (r *Room) fetchOnlineUsers(ctx context.Context) (*event.OnlineUser, error) {
	ep, ok := r.session.Endpoint()
	if !ok {
		return nil, nil
	}
	return r.cfg.OnlineUsers.FetchOnlineUsers(ctx, ep, r.cfg.Cookie)
}
