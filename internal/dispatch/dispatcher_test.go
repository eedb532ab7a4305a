package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/luciancaetano/bililive/event"
	"github.com/luciancaetano/bililive/internal/metrics"
	"github.com/luciancaetano/bililive/internal/protocol"
)

// recorder collects notifications in delivery order
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(cfg Config) *Dispatcher {
	cfg.Logger = quietLogger()
	return New(cfg)
}

func command(cmd string) protocol.CommandPack {
	doc := fmt.Sprintf(`{"cmd":%q}`, cmd)
	return protocol.CommandPack{Cmd: cmd, Raw: []byte(doc), Document: map[string]any{"cmd": cmd}}
}

// subscribeAll registers a recording handler on every notification
func subscribeAll(d *Dispatcher, r *recorder) {
	d.OnPopularity(func(n uint32) { r.add("popularity(%d)", n) })
	d.OnServerHeartbeat(func() { r.add("heartbeat") })
	for _, k := range event.Kinds() {
		d.OnEvent(k, func(ev event.Event) { r.add("%s(%s)", ev.Kind, ev.Cmd) })
	}
}

// TestDispatchOrder tests the fixed per-batch delivery order
func TestDispatchOrder(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{})
	r := &recorder{}
	subscribeAll(d, r)

	d.Dispatch(context.Background(), []protocol.LogicalPack{
		command("SEND_GIFT"),
		protocol.HeartbeatAckPack{},
		protocol.PopularityPack{Count: 256},
		command("NOT_A_KNOWN_CMD"),
	})

	want := []string{
		"popularity(256)",
		"raw(SEND_GIFT)",
		"gift(SEND_GIFT)",
		"raw(NOT_A_KNOWN_CMD)",
		"unknown(NOT_A_KNOWN_CMD)",
		"heartbeat",
	}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("delivery order:\n got %v\nwant %v", got, want)
	}
}

// TestDispatchKeepsArrivalOrderWithinGroups tests ordering of repeated packs
func TestDispatchKeepsArrivalOrderWithinGroups(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{})
	r := &recorder{}
	d.OnPopularity(func(n uint32) { r.add("%d", n) })
	d.OnEvent(event.KindRaw, func(ev event.Event) { r.add("%s", ev.Cmd) })

	d.Dispatch(context.Background(), []protocol.LogicalPack{
		protocol.PopularityPack{Count: 1},
		command("LIVE"),
		protocol.PopularityPack{Count: 2},
		command("PREPARING"),
		command("DANMU_MSG:4:0:2"),
	})

	want := []string{"1", "2", "LIVE", "PREPARING", "DANMU_MSG"}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestDispatchTypedData tests that typed events carry the classified record
func TestDispatchTypedData(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{})

	var got *event.Gift
	d.OnEvent(event.KindGift, func(ev event.Event) {
		got, _ = ev.Data.(*event.Gift)
	})

	raw := `{"cmd":"SEND_GIFT","data":{"uid":7,"uname":"bob","giftName":"rose","num":3}}`
	d.Dispatch(context.Background(), []protocol.LogicalPack{
		protocol.CommandPack{Cmd: "SEND_GIFT", Raw: []byte(raw), Document: map[string]any{}},
	})

	if got == nil {
		t.Fatal("gift handler did not receive a *event.Gift")
	}
	if got.Username != "bob" || got.Number != 3 || got.GiftName != "rose" {
		t.Errorf("gift = %+v", got)
	}
}

// TestHandlerPanicIsolation tests that a panicking handler does not stop delivery
func TestHandlerPanicIsolation(t *testing.T) {
	t.Parallel()

	m := metrics.Discard()
	d := newTestDispatcher(Config{Metrics: m})
	r := &recorder{}

	d.OnEvent(event.KindRaw, func(ev event.Event) { panic("boom") })
	d.OnEvent(event.KindRaw, func(ev event.Event) { r.add("second raw") })
	d.OnEvent(event.KindLive, func(ev event.Event) { r.add("live") })
	d.OnConnectionFailed(func(string) { panic("boom") })
	d.OnConnectionFailed(func(msg string) { r.add("failed: %s", msg) })

	d.Dispatch(context.Background(), []protocol.LogicalPack{command("LIVE")})
	d.ConnectionFailed("oops")

	want := []string{"second raw", "live", "failed: oops"}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if n := testutil.ToFloat64(m.HandlerPanics.WithLabelValues("raw")); n != 1 {
		t.Errorf("handler_panics_total{raw} = %v, want 1", n)
	}
}

// TestClassifierPanicFallsBackToUnknown tests isolation of a broken classifier
func TestClassifierPanicFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{
		Classifier: event.ClassifierFunc(func(event.Event) (event.Event, bool) { panic("bad classifier") }),
	})
	r := &recorder{}
	subscribeAll(d, r)

	d.Dispatch(context.Background(), []protocol.LogicalPack{command("LIVE")})

	want := []string{"raw(LIVE)", "unknown(LIVE)"}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestClassifierInvalidKind tests that a classifier cannot produce raw or invalid kinds
func TestClassifierInvalidKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind event.Kind
	}{
		{"raw", event.KindRaw},
		{"out of range", event.Kind(1000)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newTestDispatcher(Config{
				Classifier: event.ClassifierFunc(func(raw event.Event) (event.Event, bool) {
					raw.Kind = tt.kind
					return raw, true
				}),
			})
			r := &recorder{}
			subscribeAll(d, r)

			d.Dispatch(context.Background(), []protocol.LogicalPack{command("LIVE")})

			want := []string{"raw(LIVE)", "unknown(LIVE)"}
			if got := r.list(); !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

// TestOnlineUserRefresh tests that heartbeat acks trigger a rate-limited refresh
func TestOnlineUserRefresh(t *testing.T) {
	t.Parallel()

	calls := 0
	d := newTestDispatcher(Config{
		RefreshInterval: time.Hour,
		Refresh: func(ctx context.Context) (*event.OnlineUser, error) {
			calls++
			if _, ok := ctx.Deadline(); !ok {
				t.Error("refresh context has no deadline")
			}
			return &event.OnlineUser{Count: 2, Users: []event.User{{UID: 1}, {UID: 2}}}, nil
		},
	})
	r := &recorder{}
	d.OnServerHeartbeat(func() { r.add("heartbeat") })
	d.OnEvent(event.KindOnlineUser, func(ev event.Event) {
		r.add("online(%d)", ev.Data.(*event.OnlineUser).Count)
	})

	d.Dispatch(context.Background(), []protocol.LogicalPack{protocol.HeartbeatAckPack{}, protocol.HeartbeatAckPack{}})

	want := []string{"heartbeat", "online(2)", "heartbeat"}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if calls != 1 {
		t.Errorf("refresh called %d times, want 1", calls)
	}
}

// TestOnlineUserRefreshFailure tests that a failed refresh is swallowed
func TestOnlineUserRefreshFailure(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{
		Refresh: func(ctx context.Context) (*event.OnlineUser, error) {
			return nil, errors.New("http 412")
		},
	})
	r := &recorder{}
	subscribeAll(d, r)

	d.Dispatch(context.Background(), []protocol.LogicalPack{protocol.HeartbeatAckPack{}})

	want := []string{"heartbeat"}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestLifecycleNotifications tests connected, disconnected and failed handlers
func TestLifecycleNotifications(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{})
	r := &recorder{}
	d.OnConnected(func() { r.add("connected") })
	d.OnDisconnected(func() { r.add("disconnected") })
	d.OnConnectionFailed(func(msg string) { r.add("failed(%s)", msg) })

	d.Connected()
	d.ConnectionFailed("read failed")
	d.Disconnected()

	want := []string{"connected", "failed(read failed)", "disconnected"}
	if got := r.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestRegisterFromHandler tests that a handler may register another handler
func TestRegisterFromHandler(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{})
	r := &recorder{}
	d.OnEvent(event.KindRaw, func(ev event.Event) {
		d.OnEvent(event.KindLive, func(event.Event) { r.add("late live") })
	})

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), []protocol.LogicalPack{command("LIVE")})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch() deadlocked when a handler registered a handler")
	}

	if got := r.list(); !reflect.DeepEqual(got, []string{"late live"}) {
		t.Errorf("got %v, want [late live]", got)
	}
}

// TestInvalidKindRegistrationIgnored tests that bogus registrations are dropped
func TestInvalidKindRegistrationIgnored(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(Config{})
	d.OnEvent(event.Kind(-3), func(event.Event) {})
	d.OnEvent(event.KindLive, nil)

	if len(d.handlers) != 0 {
		t.Errorf("handler table has %d entries, want 0", len(d.handlers))
	}
}

// BenchmarkDispatch benchmarks a typical batch
func BenchmarkDispatch(b *testing.B) {
	d := New(Config{Logger: quietLogger()})
	d.OnEvent(event.KindChatMessage, func(event.Event) {})

	raw := `{"cmd":"DANMU_MSG","info":[[0],"hi",[42,"alice"]]}`
	batch := make([]protocol.LogicalPack, 0, 16)
	for i := 0; i < 16; i++ {
		batch = append(batch, protocol.CommandPack{Cmd: "DANMU_MSG", Raw: []byte(raw)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Dispatch(context.Background(), batch)
	}
}
