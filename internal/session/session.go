// Package session runs the connection lifecycle of one room: connect,
// handshake, heartbeat, receive, teardown and reconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/internal/protocol"
	"github.com/luciancaetano/bililive/internal/resolve"
	"github.com/luciancaetano/bililive/internal/transport"
)

// Failure stages, used as the metrics label.
const (
	stageProbe     = "probe"
	stageResolve   = "resolve"
	stageDial      = "dial"
	stageHandshake = "handshake"
	stageHeartbeat = "heartbeat"
	stageRead      = "read"
	stageJoin      = "join"
)

// attempt is the bookkeeping of one connection attempt. Nothing in it
// survives a reconnect.
type attempt struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	wg     sync.WaitGroup

	// transport is set under Session.mu once dialed.
	transport transport.Transport
}

// Session is the connection state machine of one room.
//
// States move Idle -> Connecting -> Handshaking -> Live -> Closing -> Idle.
// A failure at any step fires ConnectionFailed and Disconnected, then
// schedules a reconnect when AutoReconnect is set.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    bililive.State
	current  *attempt
	last     *attempt
	endpoint bililive.Endpoint
	stopped  bool
	retries  int

	// runCtx is cancelled by Disconnect to drop pending reconnects.
	runCtx    context.Context
	runCancel context.CancelFunc

	// At most one reconnect is pending; pendingGen tells a fired timer
	// whether it is still the one scheduled.
	pendingCancel context.CancelFunc
	pendingGen    uint64
}

// New creates an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.RoomID == 0 {
		return nil, errors.New(bililive.ErrInvalidRoomID)
	}
	if cfg.Resolver == nil {
		return nil, errors.New("session: resolver is required")
	}
	cfg.setDefaults()

	s := &Session{
		cfg: cfg,
		logger: cfg.Logger.With(
			"room_id", cfg.RoomID,
			"transport", cfg.Transport.String()),
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.setStateLocked(bililive.StateIdle)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() bililive.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the endpoint of the most recent successful resolution.
func (s *Session) Endpoint() (bililive.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, s.endpoint.RoomID != 0
}

// Connect runs one connection attempt. It is a no-op while an attempt is
// already connecting or live.
//
// Connect must not be called from an event handler of the same session: it
// waits for the previous attempt's loops to exit.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.stopped = false
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	s.retries = 0
	s.cancelPendingLocked()
	s.mu.Unlock()

	return s.connect(ctx)
}

// Disconnect tears down the current attempt and cancels pending reconnects.
// It is idempotent and does not wait for the loops to exit, so handlers may
// call it.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.runCancel()
	s.cancelPendingLocked()
	a := s.current
	s.mu.Unlock()

	if a == nil {
		return nil
	}
	if s.detach(a) {
		a.logger.InfoContext(ctx, "disconnected")
		s.cfg.Dispatcher.Disconnected()
	}
	return nil
}

func (s *Session) connect(parent context.Context) (err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New(bililive.ErrAttemptAborted)
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil
	}
	prev := s.last
	a := s.newAttemptLocked()
	s.current, s.last = a, a
	s.setStateLocked(bililive.StateConnecting)
	s.mu.Unlock()

	parent, span := s.cfg.Tracer.Start(parent, "bililive.connect", trace.WithAttributes(
		attribute.String("bililive.attempt_id", a.id),
		attribute.Int64("bililive.room_id", int64(s.cfg.RoomID)),
		attribute.String("bililive.transport", s.cfg.Transport.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Blocking steps are abandoned as soon as the attempt is torn down.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	a.logger.DebugContext(ctx, "connecting")

	if prev != nil {
		if err := waitLoops(ctx, &prev.wg); err != nil {
			return s.stepFailed(parent, a, stageJoin, bililive.MsgDialFailed, err)
		}
	}

	if s.cfg.ProbeAddr != "" {
		if err := s.cfg.Probe(ctx, s.cfg.ProbeAddr); err != nil {
			return s.stepFailed(parent, a, stageProbe, bililive.MsgNetworkUnreachable, err)
		}
	}

	ep, err := s.cfg.Resolver.Resolve(ctx, s.cfg.RoomID)
	if err != nil {
		msg := bililive.MsgServerListFailed
		if errors.Is(err, resolve.ErrRoomNotFound) {
			msg = bililive.MsgRoomNotFound
		}
		return s.stepFailed(parent, a, stageResolve, msg, err)
	}
	span.SetAttributes(
		attribute.Int64("bililive.real_room_id", int64(ep.RoomID)),
		attribute.String("bililive.host", ep.Host))

	t, err := s.cfg.Dialer.Dial(ctx, s.cfg.Transport, ep)
	if err != nil {
		return s.stepFailed(parent, a, stageDial, bililive.MsgDialFailed, err)
	}

	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		t.Close()
		return errors.New(bililive.ErrAttemptAborted)
	}
	a.transport = t
	s.endpoint = ep
	s.setStateLocked(bililive.StateHandshaking)
	s.mu.Unlock()

	auth, err := protocol.EncodeAuth(protocol.NewAuthBody(ep.RoomID, bililive.ClientVersion, ep.Token))
	if err == nil {
		err = t.WriteFrame(auth)
	}
	if err != nil {
		return s.stepFailed(parent, a, stageHandshake, bililive.MsgHandshakeFailed, err)
	}

	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		return errors.New(bililive.ErrAttemptAborted)
	}
	s.setStateLocked(bililive.StateLive)
	s.retries = 0
	a.wg.Add(2)
	s.mu.Unlock()

	a.logger.InfoContext(ctx, "connected", "real_room_id", ep.RoomID, "host", ep.Host)

	go s.heartbeatLoop(a, t)
	go s.receiveLoop(a, t)
	return nil
}

func (s *Session) newAttemptLocked() *attempt {
	a := &attempt{id: uuid.NewString()}
	a.ctx, a.cancel = context.WithCancel(s.runCtx)
	a.logger = s.logger.With("attempt_id", a.id)
	return a
}

// heartbeatLoop writes a heartbeat immediately and then on every tick.
func (s *Session) heartbeatLoop(a *attempt, t transport.Transport) {
	defer a.wg.Done()

	frame := protocol.EncodeHeartbeat(bililive.HeartbeatPayload)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if a.ctx.Err() != nil {
			return
		}
		if err := t.WriteFrame(frame); err != nil {
			if a.ctx.Err() == nil {
				s.fail(a, stageHeartbeat, bililive.MsgHeartbeatFailed, err)
			}
			return
		}

		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// receiveLoop fires Connected and then delivers every inbound unit until
// the attempt ends. All handlers of a live attempt run here.
func (s *Session) receiveLoop(a *attempt, t transport.Transport) {
	defer a.wg.Done()

	if a.ctx.Err() == nil {
		s.cfg.Dispatcher.Connected()
	}

	for {
		if a.ctx.Err() != nil {
			return
		}
		data, err := t.ReadFrame()
		if err != nil {
			if a.ctx.Err() == nil {
				s.fail(a, stageRead, bililive.MsgReadFailed, err)
			}
			return
		}
		s.deliver(a, data)
	}
}

// deliver decodes one inbound unit and dispatches its packs as one batch.
func (s *Session) deliver(a *attempt, data []byte) {
	frames, err := protocol.DecodeAll(data)
	if err != nil {
		s.frameError(a, err)
	}

	var packs []protocol.LogicalPack
	for _, f := range frames {
		s.cfg.Metrics.FramesDecoded.WithLabelValues(f.Version.String()).Inc()

		p, err := protocol.ToLogicalPacks(f)
		if err != nil {
			s.frameError(a, err)
		}
		packs = append(packs, p...)
	}

	if len(packs) > 0 {
		s.cfg.Dispatcher.Dispatch(a.ctx, packs)
	}
}

func (s *Session) frameError(a *attempt, err error) {
	reason := protocol.Reason(err)
	s.cfg.Metrics.FrameErrors.WithLabelValues(reason).Inc()
	a.logger.Warn("frame skipped", "reason", reason, "error", err)
}

// stepFailed handles a failed connect step. A step abandoned because the
// caller's context ended tears the attempt down without a reconnect.
func (s *Session) stepFailed(parent context.Context, a *attempt, stage, message string, err error) error {
	if a.ctx.Err() == nil && parent.Err() != nil {
		if s.detach(a) {
			s.cfg.Dispatcher.Disconnected()
		}
		return fmt.Errorf("%s: %w", bililive.ErrAttemptAborted, parent.Err())
	}
	return s.fail(a, stage, message, err)
}

// fail tears a down, notifies handlers and schedules a reconnect. Only the
// first failure of an attempt has any effect, and a failure caused by
// Disconnect is reported as an abort.
func (s *Session) fail(a *attempt, stage, message string, err error) error {
	if !s.detach(a) {
		return fmt.Errorf("%s: %w", bililive.ErrAttemptAborted, err)
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.cfg.Dispatcher.Disconnected()
		return fmt.Errorf("%s: %w", bililive.ErrAttemptAborted, err)
	}

	s.cfg.Metrics.ConnectionFailures.WithLabelValues(stage).Inc()
	a.logger.Warn("connection failed", "stage", stage, "error", err)

	s.cfg.Dispatcher.ConnectionFailed(message)
	s.cfg.Dispatcher.Disconnected()
	s.scheduleReconnect()

	return fmt.Errorf("%s: %w", message, err)
}

// detach clears a as the current attempt, stops its loops and closes its
// transport. It reports false when a was not current.
func (s *Session) detach(a *attempt) bool {
	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.setStateLocked(bililive.StateClosing)
	a.cancel()
	t := a.transport
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			a.logger.Debug("close transport", "error", err)
		}
	}

	s.mu.Lock()
	if s.current == nil {
		s.setStateLocked(bililive.StateIdle)
	}
	s.mu.Unlock()
	return true
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if !s.cfg.AutoReconnect || s.stopped {
		s.mu.Unlock()
		return
	}
	if limit := s.cfg.MaxReconnectAttempts; limit > 0 && s.retries >= limit {
		s.mu.Unlock()
		s.logger.Warn("reconnect limit reached", "attempts", limit)
		return
	}
	s.retries++
	retry := s.retries
	runCtx := s.runCtx
	s.cancelPendingLocked()
	pctx, cancel := context.WithCancel(runCtx)
	s.pendingCancel = cancel
	s.pendingGen++
	gen := s.pendingGen
	s.mu.Unlock()

	s.cfg.Metrics.Reconnects.Inc()
	s.logger.Info("reconnect scheduled", "delay", s.cfg.ReconnectDelay, "retry", retry)

	go func() {
		timer := time.NewTimer(s.cfg.ReconnectDelay)
		defer timer.Stop()

		select {
		case <-pctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.pendingGen != gen || pctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.pendingCancel = nil
		s.mu.Unlock()
		cancel()

		if err := s.connect(runCtx); err != nil {
			s.logger.Debug("reconnect attempt failed", "retry", retry, "error", err)
		}
	}()
}

// cancelPendingLocked drops the scheduled reconnect, if any.
func (s *Session) cancelPendingLocked() {
	if s.pendingCancel != nil {
		s.pendingCancel()
		s.pendingCancel = nil
	}
}

func (s *Session) setStateLocked(state bililive.State) {
	s.state = state
	s.cfg.Metrics.State.Set(float64(state))
}

// waitLoops waits for wg or ctx, whichever ends first.
func waitLoops(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
