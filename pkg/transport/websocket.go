package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/model"
)

const writeWait = 10 * time.Second

// Client implements Realtime against the gateway websocket and the api
// history endpoint.
type Client struct {
	GatewayAddr string // host:port of the gateway service
	APIURL      string // base URL of the api service
	Token       string // bearer token from auth
	Logger      zerolog.Logger

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

func NewClient(gatewayAddr, apiURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		GatewayAddr: gatewayAddr,
		APIURL:      apiURL,
		Token:       token,
		Logger:      logger,
		Dialer:      websocket.DefaultDialer,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Channel(roomID string) Channel {
	return &wsChannel{client: c, roomID: roomID}
}

type wsChannel struct {
	client *Client
	roomID string

	mu       sync.Mutex
	conn     *websocket.Conn
	opts     SubscribeOptions
	handlers []func(model.Event)
	closed   bool
}

func (ch *wsChannel) OnMessage(fn func(model.Event)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = append(ch.handlers, fn)
}

func (ch *wsChannel) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.conn != nil || ch.closed {
		return ErrAlreadySubscribed
	}

	u := url.URL{Scheme: "ws", Host: ch.client.GatewayAddr, Path: "/ws"}
	q := u.Query()
	q.Set("room", ch.roomID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Add("Authorization", "Bearer "+ch.client.Token)

	conn, resp, err := ch.client.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial gateway: %w", err)
	}
	ch.conn = conn
	ch.opts = opts

	go ch.readLoop(conn)
	return nil
}

func (ch *wsChannel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.client.Logger.Debug().Err(err).Str("room_id", ch.roomID).Msg("read loop ended")
			}
			return
		}

		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			ch.client.Logger.Warn().Err(err).Msg("dropping malformed event")
			continue
		}

		ch.mu.Lock()
		handlers := make([]func(model.Event), len(ch.handlers))
		copy(handlers, ch.handlers)
		ch.mu.Unlock()

		for _, fn := range handlers {
			fn(ev)
		}
	}
}

func (ch *wsChannel) Messages(ctx context.Context, limit int) ([]model.Event, error) {
	u := fmt.Sprintf("%s/history?room_id=%s&limit=%s",
		ch.client.APIURL, url.QueryEscape(ch.roomID), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ch.client.Token)

	resp, err := ch.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("history request failed: %d %s", resp.StatusCode, string(body))
	}

	var events []model.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return events, nil
}

func (ch *wsChannel) Publish(ctx context.Context, kind model.EventKind, payload any, opts PublishOptions) error {
	ev, err := model.NewEvent(kind, ch.roomID, opts.UserID, opts.Metadata, payload)
	if err != nil {
		return err
	}
	ev.ID = uuid.NewString()

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.conn == nil {
		return ErrNotSubscribed
	}
	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ch.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (ch *wsChannel) Unsubscribe() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	if ch.conn == nil {
		return nil
	}

	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	ch.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := ch.conn.Close()
	ch.conn = nil
	return err
}
