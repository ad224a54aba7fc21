package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wainbox/wainbox/internal/store"
)

// mockRealtime is a minimal realtime server for testing.
func mockRealtime(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"wainbox-realtime-v1"},
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()
		handler(r.Context(), conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// confirmSubscribe reads the subscribe command and confirms it.
func confirmSubscribe(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("read subscribe: %v", err)
		return frame{}
	}
	var f frame
	_ = json.Unmarshal(data, &f)
	if f.Command != "subscribe" {
		t.Errorf("expected subscribe, got %q", f.Command)
	}
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"confirm_subscription"}`))
	return f
}

func TestSubscribeDeliversChanges(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		f := confirmSubscribe(ctx, t, conn)
		if f.Relation != "messages" {
			t.Errorf("relation = %q", f.Relation)
		}
		if f.Filter["conversation_id"] != "c1" {
			t.Errorf("filter = %v", f.Filter)
		}
		// Pings interleave with changes; commit order must survive.
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"change","change":{"type":"insert","relation":"messages","row":{"id":"m1"}}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"change","change":{"type":"update","relation":"messages","row":{"id":"m1"}}}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := New(wsURL(srv), "tok").Subscribe(ctx, store.Messages, store.Filter{"conversation_id": "c1"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	first := <-sub.Events()
	if first.Type != store.EventInsert || first.RowID() != "m1" {
		t.Errorf("first event = %+v", first)
	}
	second := <-sub.Events()
	if second.Type != store.EventUpdate {
		t.Errorf("second event = %+v", second)
	}
}

func TestSubscribeRejected(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
		_, _, _ = conn.Read(ctx)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"reject_subscription"}`))
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(wsURL(srv), "bad").Subscribe(ctx, store.Conversations, nil)
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("err = %v, want rejection", err)
	}
}

func TestSubscribeNoWelcome(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"disconnect","reason":"unauthorized"}`))
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(wsURL(srv), "").Subscribe(ctx, store.Conversations, nil)
	if err == nil {
		t.Fatal("expected error for non-welcome frame")
	}
}

func TestSubscribeSkipsPingBeforeConfirm(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`))
		_, _, _ = conn.Read(ctx)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"confirm_subscription"}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := New(wsURL(srv), "").Subscribe(ctx, store.Conversations, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_ = sub.Close()
}

func TestDisconnectClosesWithErr(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		confirmSubscribe(ctx, t, conn)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"disconnect","reason":"server_restart","reconnect":true}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := New(wsURL(srv), "").Subscribe(ctx, store.Conversations, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	for range sub.Events() {
	}
	if sub.Err() == nil || !strings.Contains(sub.Err().Error(), "server_restart") {
		t.Errorf("Err = %v", sub.Err())
	}
}

func TestPingTimeout(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		confirmSubscribe(ctx, t, conn)
		// Go silent; no pings, no close.
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed := New(wsURL(srv), "")
	feed.PingTimeout = 200 * time.Millisecond
	sub, err := feed.Subscribe(ctx, store.Conversations, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	for range sub.Events() {
	}
	if !errors.Is(sub.Err(), ErrPingTimeout) {
		t.Errorf("Err = %v, want ErrPingTimeout", sub.Err())
	}
}

func TestMalformedFramesSkipped(t *testing.T) {
	srv := mockRealtime(t, func(ctx context.Context, conn *websocket.Conn) {
		confirmSubscribe(ctx, t, conn)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"change","change":{"type":"insert","relation":"conversations","row":{"id":"c1"}}}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := New(wsURL(srv), "").Subscribe(ctx, store.Conversations, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	ev := <-sub.Events()
	if ev.RowID() != "c1" {
		t.Errorf("event = %+v", ev)
	}
}
