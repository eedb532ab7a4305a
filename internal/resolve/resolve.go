// Package resolve looks up danmaku server endpoints and online-viewer
// snapshots over the live service's HTTP API.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/luciancaetano/bililive"
	"github.com/luciancaetano/bililive/event"
	"github.com/luciancaetano/bililive/internal/jsonfield"
)

// Resolution failure kinds. A *ResolutionError matches exactly one of these.
var (
	ErrRoomNotFound     = errors.New(bililive.MsgRoomNotFound)
	ErrServerListFailed = errors.New(bililive.MsgServerListFailed)
)

// ResolutionError is a failure to map a room id to a danmaku server.
type ResolutionError struct {
	RoomID uint64
	Kind   error
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve room %d: %s", e.RoomID, e.Kind)
	}
	return fmt.Sprintf("resolve room %d: %s: %v", e.RoomID, e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

const (
	roomInitPath   = "/room/v1/Room/room_init"
	getConfPath    = "/room/v1/Danmu/getConf"
	onlineRankPath = "/xlive/general-interface/v1/rank/getOnlineRank"

	onlineRankPageSize = 50

	// maxBodySize bounds one API response.
	maxBodySize = 4 << 20
)

// Client talks to the live service's HTTP API. It implements
// bililive.Resolver and bililive.OnlineUserFetcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// MaxPages bounds the online-viewer paging. Default 20.
	MaxPages int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Default has a 10s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the API at baseURL, for example
// bililive.DefaultAPIBaseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		MaxPages:   20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve maps a user-facing room id to its canonical id and danmaku server.
//
// room_init failures yield ErrRoomNotFound; getConf failures yield
// ErrServerListFailed.
func (c *Client) Resolve(ctx context.Context, roomID uint64) (bililive.Endpoint, error) {
	body, err := c.get(ctx, roomInitPath, url.Values{"id": {strconv.FormatUint(roomID, 10)}}, "")
	if err != nil {
		return bililive.Endpoint{}, &ResolutionError{RoomID: roomID, Kind: ErrRoomNotFound, Err: err}
	}

	ep, err := parseRoomInit(body)
	if err != nil {
		return bililive.Endpoint{}, &ResolutionError{RoomID: roomID, Kind: ErrRoomNotFound, Err: err}
	}

	body, err = c.get(ctx, getConfPath, url.Values{"room_id": {strconv.FormatUint(ep.RoomID, 10)}}, "")
	if err != nil {
		return bililive.Endpoint{}, &ResolutionError{RoomID: roomID, Kind: ErrServerListFailed, Err: err}
	}

	if err := parseConf(body, &ep); err != nil {
		return bililive.Endpoint{}, &ResolutionError{RoomID: roomID, Kind: ErrServerListFailed, Err: err}
	}

	c.logger.DebugContext(ctx, "room resolved",
		"room_id", roomID,
		"real_room_id", ep.RoomID,
		"host", ep.Host)

	return ep, nil
}

// FetchOnlineUsers pages through the online rank of ep's room until an empty
// page, sending cookie with every request.
func (c *Client) FetchOnlineUsers(ctx context.Context, ep bililive.Endpoint, cookie string) (*event.OnlineUser, error) {
	snapshot := &event.OnlineUser{}

	for page := 1; page <= c.MaxPages; page++ {
		q := url.Values{
			"page":     {strconv.Itoa(page)},
			"pageSize": {strconv.Itoa(onlineRankPageSize)},
			"platform": {"pc_link"},
			"roomId":   {strconv.FormatUint(ep.RoomID, 10)},
			"ruid":     {strconv.FormatUint(ep.AnchorUID, 10)},
		}

		body, err := c.get(ctx, onlineRankPath, q, cookie)
		if err != nil {
			return nil, fmt.Errorf("online rank page %d: %w", page, err)
		}

		users, err := parseRankPage(body)
		if err != nil {
			return nil, fmt.Errorf("online rank page %d: %w", page, err)
		}

		if len(users) == 0 {
			snapshot.Count, _ = jsonparser.GetInt(body, "data", "onlineNum")
			return snapshot, nil
		}
		snapshot.Users = append(snapshot.Users, users...)
	}

	c.logger.DebugContext(ctx, "online rank page limit reached", "pages", c.MaxPages)
	snapshot.Count = int64(len(snapshot.Users))
	return snapshot, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, cookie string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}

	if code, err := jsonparser.GetInt(body, "code"); err == nil && code != 0 {
		msg, _ := jsonparser.GetString(body, "message")
		return nil, fmt.Errorf("api code %d: %s", code, msg)
	}
	return body, nil
}

func parseRoomInit(body []byte) (bililive.Endpoint, error) {
	id, err := jsonparser.GetInt(body, "data", "room_id")
	if err != nil || id <= 0 {
		return bililive.Endpoint{}, fmt.Errorf("missing data.room_id")
	}
	uid, _ := jsonparser.GetInt(body, "data", "uid")

	return bililive.Endpoint{RoomID: uint64(id), AnchorUID: uint64(uid)}, nil
}

func parseConf(body []byte, ep *bililive.Endpoint) error {
	host, err := jsonparser.GetString(body, "data", "host_server_list", "[0]", "host")
	if err != nil || host == "" {
		return fmt.Errorf("empty host_server_list")
	}
	ep.Host = host
	ep.Port = int(jsonfield.Int(body, "data", "host_server_list", "[0]", "port"))
	ep.WsPort = int(jsonfield.Int(body, "data", "host_server_list", "[0]", "ws_port"))
	ep.WssPort = int(jsonfield.Int(body, "data", "host_server_list", "[0]", "wss_port"))

	ep.Token, err = jsonparser.GetString(body, "data", "token")
	if err != nil {
		return fmt.Errorf("missing data.token")
	}
	return nil
}

func parseRankPage(body []byte) ([]event.User, error) {
	var users []event.User
	var perr error

	_, err := jsonparser.ArrayEach(body, func(item []byte, _ jsonparser.ValueType, _ int, err error) {
		if err != nil {
			perr = err
			return
		}
		u := event.User{
			UID:  jsonfield.Int(item, "uid"),
			Face: jsonfield.String(item, "face"),
		}
		u.Username = jsonfield.String(item, "name")
		if u.Username == "" {
			u.Username = jsonfield.String(item, "uname")
		}
		users = append(users, u)
	}, "data", "item")
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return users, perr
}
