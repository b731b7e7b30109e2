// Package realtime subscribes to row changes of the hosted categories table
// over the Supabase realtime websocket (Phoenix channel protocol).
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"counters/internal/store"
)

const (
	eventJoin            = "phx_join"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
)

// Config holds the realtime connection settings.
type Config struct {
	// BaseURL is the project URL (https://xyz.supabase.co); the scheme is
	// rewritten to ws/wss.
	BaseURL           string
	APIKey            string
	Schema            string
	Table             string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

func (c *Config) defaults() {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.Table == "" {
		c.Table = store.TableName
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// message is a Phoenix channel frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changePayload struct {
	Data *changeData `json:"data"`
	// Older servers put the change at the top level.
	changeData
}

type changeData struct {
	Type            string          `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	CommitTimestamp string          `json:"commit_timestamp"`
}

// Client is a store.ChangeFeed backed by the realtime websocket. Run keeps
// the connection alive; handlers registered with OnChange are invoked from
// the read loop.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	ref    atomic.Int64

	mu       sync.RWMutex
	handlers map[int64]func(store.Change)
	nextID   int64
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, errors.New("realtime: base URL and API key are required")
	}
	cfg.defaults()
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers: make(map[int64]func(store.Change)),
	}, nil
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.cancel) }

func (c *Client) OnChange(handler func(store.Change)) store.Subscription {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = handler
	c.mu.Unlock()

	return &subscription{cancel: func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}}
}

// Topic is the channel name joined for the table.
func (c *Client) Topic() string {
	return "realtime:" + c.cfg.Schema + ":" + c.cfg.Table
}

// Endpoint returns the websocket URL.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse realtime URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", c.cfg.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and reconnects until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		started := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > time.Minute {
			attempt = 0
		}
		wait := backoff(attempt)
		slog.WarnContext(ctx, "Realtime connection lost, reconnecting",
			"error", err, "attempt", attempt+1, "wait", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context) error {
	endpoint, err := c.Endpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(topic, event string, payload any) error {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ref := strconv.FormatInt(c.ref.Add(1), 10)
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return conn.WriteJSON(message{Topic: topic, Event: event, Payload: body, Ref: &ref})
	}

	join := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": c.cfg.Schema, "table": c.cfg.Table},
			},
		},
		"access_token": c.cfg.APIKey,
	}
	if err := send(c.Topic(), eventJoin, join); err != nil {
		return fmt.Errorf("join %s: %w", c.Topic(), err)
	}
	slog.InfoContext(ctx, "Realtime channel joined", "topic", c.Topic())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// Unblock ReadJSON.
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := send("phoenix", eventHeartbeat, struct{}{}); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read realtime frame: %w", err)
		}
		if err := c.handle(msg); err != nil {
			return err
		}
	}
}

func (c *Client) handle(msg message) error {
	if msg.Topic != c.Topic() {
		return nil
	}
	switch msg.Event {
	case eventReply:
		var reply struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status == "error" {
			return fmt.Errorf("realtime join rejected: %s", string(reply.Response))
		}
	case eventError, eventClose:
		return fmt.Errorf("realtime channel closed by server (%s)", msg.Event)
	case eventPostgresChanges, string(store.ChangeInsert), string(store.ChangeUpdate), string(store.ChangeDelete):
		change, ok := decodeChange(msg.Payload)
		if ok {
			c.dispatch(change)
		}
	}
	return nil
}

func decodeChange(raw json.RawMessage) (store.Change, bool) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.Change{}, false
	}
	data := p.changeData
	if p.Data != nil {
		data = *p.Data
	}
	if data.Type == "" {
		return store.Change{}, false
	}

	change := store.Change{Kind: store.ChangeKind(data.Type), At: time.Now().UTC()}
	if ts, err := time.Parse(time.RFC3339Nano, data.CommitTimestamp); err == nil {
		change.At = ts
	}
	record := data.Record
	if change.Kind == store.ChangeDelete {
		record = data.OldRecord
	}
	var rec struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(record, &rec) == nil && len(rec.ID) > 0 {
		change.ID = strings.Trim(string(rec.ID), `"`)
	}
	return change, true
}

func (c *Client) dispatch(change store.Change) {
	c.mu.RLock()
	handlers := make([]func(store.Change), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()
	for _, h := range handlers {
		h(change)
	}
}

// backoff doubles from one second up to thirty.
func backoff(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	d := time.Second << attempt
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
