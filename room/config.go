package room

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/event"
)

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("invalid room config")

// Config configures a Room.
type Config struct {
	// RoomID is the user-facing room id. Short ids are resolved to the
	// canonical id on every connect.
	RoomID uint64

	// Transport selects the carrier (default: stream socket).
	Transport bililive.TransportKind

	// AutoReconnect schedules a new attempt after any failure (default: true).
	AutoReconnect bool

	// ReconnectDelay is the pause before each reconnect (default: 5000ms).
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive reconnects. 0 means unbounded.
	MaxReconnectAttempts int

	// HeartbeatInterval is the heartbeat period (default: 30s).
	HeartbeatInterval time.Duration

	// IOTimeout bounds every transport read and write (default: 31s).
	IOTimeout time.Duration

	// Cookie authenticates online-viewer snapshot requests. Empty disables
	// the snapshots.
	Cookie string

	// OnlineRefreshInterval is the minimum time between two online-viewer
	// snapshots (default: 30s).
	OnlineRefreshInterval time.Duration

	// ProbeAddr is dialed before each attempt to check the network.
	// Empty disables the probe.
	ProbeAddr string

	// APIBaseURL is the HTTP API used by the default resolver and fetcher.
	APIBaseURL string

	// Logger receives structured logs (default: slog.Default()).
	Logger *slog.Logger

	// Registerer receives the room's Prometheus collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// Resolver overrides the HTTP resolver.
	Resolver bililive.Resolver

	// OnlineUsers overrides the HTTP online-viewer fetcher.
	OnlineUsers bililive.OnlineUserFetcher

	// Classifier overrides the default command classifier.
	Classifier event.Classifier
}

// DefaultConfig returns the default configuration for roomID.
func DefaultConfig(roomID uint64) Config {
	return Config{
		RoomID:                roomID,
		Transport:             bililive.TransportSocket,
		AutoReconnect:         true,
		ReconnectDelay:        bililive.DefaultReconnectDelay,
		HeartbeatInterval:     bililive.DefaultHeartbeatInterval,
		IOTimeout:             bililive.DefaultIOTimeout,
		OnlineRefreshInterval: 30 * time.Second,
		ProbeAddr:             bililive.DefaultProbeAddr,
		APIBaseURL:            bililive.DefaultAPIBaseURL,
	}
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if c.RoomID == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, bililive.ErrInvalidRoomID)
	}
	switch c.Transport {
	case bililive.TransportSocket, bililive.TransportWS, bililive.TransportWSS:
	default:
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, bililive.ErrUnsupportedTransport, c.Transport)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, bililive.ErrInvalidDelay)
	}
	if c.HeartbeatInterval <= 0 || c.IOTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, bililive.ErrInvalidInterval)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max reconnect attempts must not be negative", ErrInvalidConfig)
	}
	if c.Resolver == nil && c.APIBaseURL == "" {
		return fmt.Errorf("%w: an API base URL or a resolver is required", ErrInvalidConfig)
	}
	return nil
}

// Option adjusts a Config.
type Option func(*Config)

// WithTransport selects the carrier.
func WithTransport(kind bililive.TransportKind) Option {
	return func(c *Config) { c.Transport = kind }
}

// WithAutoReconnect enables or disables reconnects.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Config) { c.AutoReconnect = enabled }
}

// WithReconnectDelay sets the pause before each reconnect.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.ReconnectDelay = d }
}

// WithMaxReconnectAttempts bounds consecutive reconnects.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Config) { c.MaxReconnectAttempts = n }
}

// WithHeartbeatInterval sets the heartbeat period and derives the I/O
// timeout one second above it.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
		c.IOTimeout = d + time.Second
	}
}

// WithCookie enables online-viewer snapshots.
func WithCookie(cookie string) Option {
	return func(c *Config) { c.Cookie = cookie }
}

// WithProbeAddr sets the network probe target. Empty disables the probe.
func WithProbeAddr(addr string) Option {
	return func(c *Config) { c.ProbeAddr = addr }
}

// WithAPIBaseURL sets the HTTP API base URL.
func WithAPIBaseURL(u string) Option {
	return func(c *Config) { c.APIBaseURL = u }
}

// WithLogger sets the logger. Nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithRegisterer registers the room's collectors with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registerer = r }
}

// WithResolver replaces the HTTP room resolver.
func WithResolver(r bililive.Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

// WithOnlineUserFetcher replaces the HTTP online-viewer fetcher.
func WithOnlineUserFetcher(f bililive.OnlineUserFetcher) Option {
	return func(c *Config) { c.OnlineUsers = f }
}

// WithClassifier replaces the command classifier.
func WithClassifier(cl event.Classifier) Option {
	return func(c *Config) { c.Classifier = cl }
}
