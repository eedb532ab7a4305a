package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/event"
	"github.com/luciancaetano/bililive/room"
)

type watchOptions struct {
	transport      string
	noReconnect    bool
	reconnectDelay time.Duration
	maxReconnects  int
	cookie         string
	metricsAddr    string
	apiBaseURL     string
	noProbe        bool
	raw            bool
	logLevel       string
	jsonLogs       bool
}

func watchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <room-id>",
		Short: "Connect to a room and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || roomID == 0 {
				return fmt.Errorf("%s: %q", bililive.ErrInvalidRoomID, args[0])
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), roomID, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.transport, "transport", "t", "tcp", "Transport: tcp, ws or wss")
	f.BoolVar(&opts.noReconnect, "no-reconnect", false, "Do not reconnect after a failure")
	f.DurationVar(&opts.reconnectDelay, "reconnect-delay", bililive.DefaultReconnectDelay, "Pause before each reconnect")
	f.IntVar(&opts.maxReconnects, "max-reconnects", 0, "Consecutive reconnect limit (0 = unbounded)")
	f.StringVar(&opts.cookie, "cookie", "", "Cookie for online-viewer snapshots")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	f.StringVar(&opts.apiBaseURL, "api", bililive.DefaultAPIBaseURL, "Live API base URL")
	f.BoolVar(&opts.noProbe, "no-probe", false, "Skip the network reachability probe")
	f.BoolVar(&opts.raw, "raw", false, "Print every raw command document")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.BoolVar(&opts.jsonLogs, "json-logs", false, "Write logs as JSON")

	return cmd
}

func runWatch(ctx context.Context, out io.Writer, roomID uint64, opts watchOptions) error {
	kind, err := bililive.ParseTransportKind(opts.transport)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.logLevel, opts.jsonLogs)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := room.DefaultConfig(roomID)
	if opts.noProbe {
		cfg.ProbeAddr = ""
	}

	r, err := room.New(cfg,
		room.WithTransport(kind),
		room.WithAutoReconnect(!opts.noReconnect),
		room.WithReconnectDelay(opts.reconnectDelay),
		room.WithMaxReconnectAttempts(opts.maxReconnects),
		room.WithCookie(opts.cookie),
		room.WithAPIBaseURL(opts.apiBaseURL),
		room.WithLogger(logger),
		room.WithRegisterer(reg))
	if err != nil {
		return err
	}

	p := &printer{out: out, raw: opts.raw}
	p.subscribe(r)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           newRouter(reg, r),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := r.Connect(ctx); err != nil {
		if opts.noReconnect {
			return err
		}
		logger.Warn("first attempt failed, retrying in the background", "error", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return r.Disconnect(context.Background())
}

func newLogger(level string, jsonLogs bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts)), nil
}

// printer writes one line per notification.
type printer struct {
	out io.Writer
	raw bool
}

func (p *printer) subscribe(r bililive.Room) {
	r.OnConnected(func() { fmt.Fprintln(p.out, "* connected") })
	r.OnDisconnected(func() { fmt.Fprintln(p.out, "* disconnected") })
	r.OnConnectionFailed(func(msg string) { fmt.Fprintf(p.out, "* %s\n", msg) })
	r.OnPopularity(func(n uint32) { fmt.Fprintf(p.out, "* popularity %d\n", n) })

	for _, k := range event.Kinds() {
		if k == event.KindRaw && !p.raw {
			continue
		}
		r.OnEvent(k, func(ev event.Event) {
			if line := formatEvent(ev); line != "" {
				fmt.Fprintln(p.out, line)
			}
		})
	}
}

// formatEvent renders ev as one line, or "" for events not worth printing.
func formatEvent(ev event.Event) string {
	switch d := ev.Data.(type) {
	case *event.ChatMessage:
		if d.MedalName != "" {
			return fmt.Sprintf("[%s %d] %s: %s", d.MedalName, d.MedalLevel, d.Username, d.Text)
		}
		return fmt.Sprintf("%s: %s", d.Username, d.Text)
	case *event.Gift:
		return fmt.Sprintf("%s %s %s x%d", d.Username, d.Action, d.GiftName, d.Number)
	case *event.ComboSend:
		return fmt.Sprintf("%s %s %s combo x%d", d.Username, d.Action, d.GiftName, d.ComboNum)
	case *event.GuardBuy:
		return fmt.Sprintf("%s bought %s x%d", d.Username, d.GiftName, d.Number)
	case *event.SuperChat:
		return fmt.Sprintf("[SC %d] %s: %s", d.Price, d.Username, d.Message)
	case *event.InteractWord:
		switch d.MsgType {
		case event.InteractEnter:
			return fmt.Sprintf("%s entered", d.Username)
		case event.InteractFollow:
			return fmt.Sprintf("%s followed", d.Username)
		case event.InteractShare:
			return fmt.Sprintf("%s shared the room", d.Username)
		}
		return ""
	case *event.WatchedChange:
		return fmt.Sprintf("* %s", d.TextLarge)
	case *event.Welcome:
		return fmt.Sprintf("welcome %s", d.Username)
	case *event.WelcomeGuard:
		return fmt.Sprintf("welcome guard %s", d.Username)
	case *event.RoomBlock:
		return fmt.Sprintf("* %s was blocked", d.Username)
	case *event.Preparing:
		return "* stream ended"
	case *event.Live:
		return "* stream started"
	case *event.OnlineUser:
		return fmt.Sprintf("* %d online", d.Count)
	}

	if ev.Kind == event.KindRaw {
		return string(ev.Raw)
	}
	return ""
}
