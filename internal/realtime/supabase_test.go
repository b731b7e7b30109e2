package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"counters/internal/store"
)

func TestEndpoint(t *testing.T) {
	c, err := New(Config{BaseURL: "https://demo.supabase.co/", APIKey: "anon"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	want := "wss://demo.supabase.co/realtime/v1/websocket?apikey=anon&vsn=1.0.0"
	if got != want {
		t.Fatalf("Endpoint = %q, want %q", got, want)
	}
	if c.Topic() != "realtime:public:categories" {
		t.Fatalf("Topic = %q", c.Topic())
	}
}

func TestNewRequiresSettings(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestDecodeChange(t *testing.T) {
	cases := []struct {
		name string
		body string
		kind store.ChangeKind
		id   string
	}{
		{"nested insert", `{"data":{"type":"INSERT","table":"categories","record":{"id":"abc"},"commit_timestamp":"2024-05-01T10:00:00Z"},"ids":[1]}`, store.ChangeInsert, "abc"},
		{"nested delete uses old record", `{"data":{"type":"DELETE","table":"categories","record":null,"old_record":{"id":7}}}`, store.ChangeDelete, "7"},
		{"legacy top level", `{"type":"UPDATE","table":"categories","record":{"id":"x"}}`, store.ChangeUpdate, "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := decodeChange(json.RawMessage(tc.body))
			if !ok || got.Kind != tc.kind || got.ID != tc.id {
				t.Fatalf("decodeChange = %+v, %v", got, ok)
			}
		})
	}
	if _, ok := decodeChange(json.RawMessage(`{"status":"ok"}`)); ok {
		t.Fatal("payload without type must be ignored")
	}
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := backoff(i); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestRunDeliversChanges(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan message, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join message
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joined <- join

		ref := "1"
		_ = conn.WriteJSON(message{Topic: join.Topic, Event: eventReply, Payload: json.RawMessage(`{"status":"ok","response":{}}`), Ref: &ref})
		_ = conn.WriteJSON(message{Topic: "realtime:other", Event: eventPostgresChanges, Payload: json.RawMessage(`{"data":{"type":"INSERT","record":{"id":"ignored"}}}`)})
		_ = conn.WriteJSON(message{Topic: join.Topic, Event: eventPostgresChanges, Payload: json.RawMessage(`{"data":{"type":"UPDATE","record":{"id":"c1"}}}`)})

		// Keep the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "anon", HeartbeatInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := make(chan store.Change, 4)
	sub := c.OnChange(func(ch store.Change) { got <- ch })
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case join := <-joined:
		if join.Event != eventJoin || join.Topic != "realtime:public:categories" {
			t.Fatalf("unexpected join frame: %+v", join)
		}
		if !strings.Contains(string(join.Payload), `"table":"categories"`) {
			t.Fatalf("join payload missing table filter: %s", join.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never joined")
	}

	select {
	case ch := <-got:
		if ch.Kind != store.ChangeUpdate || ch.ID != "c1" {
			t.Fatalf("unexpected change %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, _ := New(Config{BaseURL: "http://x", APIKey: "k"})
	calls := 0
	sub := c.OnChange(func(store.Change) { calls++ })
	c.dispatch(store.Change{Kind: store.ChangeInsert})
	sub.Unsubscribe()
	sub.Unsubscribe()
	c.dispatch(store.Change{Kind: store.ChangeInsert})
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}
