package session

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/internal/dispatch"
	"github.com/luciancaetano/bililive/internal/metrics"
	"github.com/luciancaetano/bililive/internal/transport"
)

const tracerName = "github.com/luciancaetano/bililive/internal/session"

// ProbeFunc checks that the network is reachable before an attempt.
type ProbeFunc func(ctx context.Context, addr string) error

// DialProbe returns a ProbeFunc that opens and closes a TCP connection.
func DialProbe(timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, addr string) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Config configures a Session.
type Config struct {
	RoomID    uint64
	Transport bililive.TransportKind

	// AutoReconnect schedules a new attempt after any failure.
	AutoReconnect bool
	// ReconnectDelay is the pause before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive reconnects. 0 means unbounded.
	MaxReconnectAttempts int

	HeartbeatInterval time.Duration

	// ProbeAddr is dialed before each attempt. Empty disables the probe.
	ProbeAddr string
	Probe     ProbeFunc

	Resolver   bililive.Resolver
	Dialer     transport.Dialer
	Dispatcher *dispatch.Dispatcher

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

func (cfg *Config) setDefaults() {
	if cfg.ReconnectDelay < 0 {
		cfg.ReconnectDelay = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = bililive.DefaultHeartbeatInterval
	}
	if cfg.Probe == nil {
		cfg.Probe = DialProbe(5 * time.Second)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewNetDialer(bililive.DefaultIOTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(dispatch.Config{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
}
