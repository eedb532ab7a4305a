package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/bililive/event"
	"github.com/luciancaetano/bililive/internal/metrics"
	"github.com/luciancaetano/bililive/internal/protocol"
)

// RefreshFunc fetches an online-viewer snapshot.
type RefreshFunc func(ctx context.Context) (*event.OnlineUser, error)

// Config configures a Dispatcher.
type Config struct {
	// Classifier turns command documents into typed events.
	// Default event.DefaultClassifier().
	Classifier event.Classifier

	// Refresh is called after server heartbeat acknowledgements to fetch an
	// online-viewer snapshot. Nil disables the refresh.
	Refresh RefreshFunc

	// RefreshInterval is the minimum time between two refreshes. Default 30s.
	RefreshInterval time.Duration

	// RefreshTimeout bounds one refresh. Default 5s.
	RefreshTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher delivers decoded packs and lifecycle notifications to handlers.
//
// Handlers are kept in a table keyed by event kind. Every handler call is
// isolated: a panic is recovered, logged and counted, and delivery continues
// with the next handler.
type Dispatcher struct {
	classifier     event.Classifier
	refresh        RefreshFunc
	refreshLimiter *rate.Limiter
	refreshTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	mu           sync.RWMutex
	connected    []func()
	disconnected []func()
	failed       []func(string)
	heartbeat    []func()
	popularity   []func(uint32)
	handlers     map[event.Kind][]event.Handler
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Classifier == nil {
		cfg.Classifier = event.DefaultClassifier()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}

	return &Dispatcher{
		classifier:     cfg.Classifier,
		refresh:        cfg.Refresh,
		refreshLimiter: rate.NewLimiter(rate.Every(cfg.RefreshInterval), 1),
		refreshTimeout: cfg.RefreshTimeout,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		handlers:       make(map[event.Kind][]event.Handler),
	}
}

// SetRefresh replaces the online-viewer refresh function.
func (d *Dispatcher) SetRefresh(fn RefreshFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refresh = fn
}

// OnConnected registers h to run once a session goes live.
func (d *Dispatcher) OnConnected(h func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, h)
}

// OnDisconnected registers h to run when a session is torn down.
func (d *Dispatcher) OnDisconnected(h func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, h)
}

// OnConnectionFailed registers h to receive the message of a failed attempt.
func (d *Dispatcher) OnConnectionFailed(h func(message string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, h)
}

// OnServerHeartbeat registers h to run for every heartbeat ack.
func (d *Dispatcher) OnServerHeartbeat(h func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heartbeat = append(d.heartbeat, h)
}

// OnPopularity registers h to receive popularity counts.
func (d *Dispatcher) OnPopularity(h func(count uint32)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.popularity = append(d.popularity, h)
}

// OnEvent registers h for kind. Invalid kinds are ignored.
func (d *Dispatcher) OnEvent(kind event.Kind, h event.Handler) {
	if !kind.Valid() || h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Connected fires the connected handlers.
func (d *Dispatcher) Connected() {
	d.mu.RLock()
	hs := d.connected
	d.mu.RUnlock()

	for _, h := range hs {
		d.call("connected", h)
	}
}

// Disconnected fires the disconnected handlers.
func (d *Dispatcher) Disconnected() {
	d.mu.RLock()
	hs := d.disconnected
	d.mu.RUnlock()

	for _, h := range hs {
		d.call("disconnected", h)
	}
}

// ConnectionFailed fires the connection-failed handlers with message.
func (d *Dispatcher) ConnectionFailed(message string) {
	d.mu.RLock()
	hs := d.failed
	d.mu.RUnlock()

	for _, h := range hs {
		d.call("connection_failed", func() { h(message) })
	}
}

// Dispatch delivers one batch of packs produced by a single read, in this
// order: every popularity pack; then for each command pack, the raw event
// followed by the typed or unknown event; then every heartbeat ack, each
// followed by an online-viewer refresh when one is due.
//
// Arrival order is kept within each group.
func (d *Dispatcher) Dispatch(ctx context.Context, packs []protocol.LogicalPack) {
	var (
		popularity []protocol.PopularityPack
		commands   []protocol.CommandPack
		acks       int
	)
	for _, p := range packs {
		switch p := p.(type) {
		case protocol.PopularityPack:
			popularity = append(popularity, p)
		case protocol.CommandPack:
			commands = append(commands, p)
		case protocol.HeartbeatAckPack:
			acks++
		}
	}

	for _, p := range popularity {
		d.firePopularity(p.Count)
	}

	for _, c := range commands {
		raw := event.Event{
			Kind:     event.KindRaw,
			Cmd:      event.NormalizeCmd(c.Cmd),
			Raw:      c.Raw,
			Document: c.Document,
		}
		d.Emit(raw)

		if typed, ok := d.classify(raw); ok {
			d.Emit(typed)
		} else {
			unknown := raw
			unknown.Kind = event.KindUnknown
			d.Emit(unknown)
		}
	}

	for i := 0; i < acks; i++ {
		d.fireHeartbeat()
		d.refreshOnlineUsers(ctx)
	}
}

// Emit delivers ev to the handlers registered for its kind.
func (d *Dispatcher) Emit(ev event.Event) {
	d.mu.RLock()
	hs := d.handlers[ev.Kind]
	d.mu.RUnlock()

	d.metrics.EventsDispatched.WithLabelValues(ev.Kind.String()).Inc()
	for _, h := range hs {
		d.call(ev.Kind.String(), func() { h(ev) })
	}
}

func (d *Dispatcher) firePopularity(count uint32) {
	d.mu.RLock()
	hs := d.popularity
	d.mu.RUnlock()

	d.metrics.Popularity.Set(float64(count))
	for _, h := range hs {
		d.call("popularity", func() { h(count) })
	}
}

func (d *Dispatcher) fireHeartbeat() {
	d.mu.RLock()
	hs := d.heartbeat
	d.mu.RUnlock()

	for _, h := range hs {
		d.call("server_heartbeat", h)
	}
}

// classify runs the classifier with the same isolation as a handler.
func (d *Dispatcher) classify(raw event.Event) (typed event.Event, ok bool) {
	d.call("classifier", func() {
		typed, ok = d.classifier.Classify(raw)
	})
	if ok && (typed.Kind == event.KindRaw || !typed.Kind.Valid()) {
		d.logger.Warn("classifier returned an invalid kind", "cmd", raw.Cmd, "kind", typed.Kind)
		return event.Event{}, false
	}
	return typed, ok
}

func (d *Dispatcher) refreshOnlineUsers(ctx context.Context) {
	d.mu.RLock()
	refresh := d.refresh
	d.mu.RUnlock()

	if refresh == nil || !d.refreshLimiter.Allow() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.refreshTimeout)
	defer cancel()

	snapshot, err := refresh(ctx)
	if err != nil {
		d.logger.Debug("online user refresh failed", "error", err)
		return
	}
	if snapshot == nil {
		return
	}

	d.Emit(event.Event{Kind: event.KindOnlineUser, Data: snapshot})
}

func (d *Dispatcher) call(notification string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.HandlerPanics.WithLabelValues(notification).Inc()
			d.logger.Error("handler panic recovered",
				"notification", notification,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
