// Package wsfeed implements store.ChangeFeed over the realtime
// service's WebSocket protocol. Each subscription owns one connection:
// dial, welcome, subscribe, confirm, then a stream of change frames in
// commit order.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/wainbox/wainbox/internal/store"
)

// DefaultPingTimeout is how long we wait without receiving any frame
// (including server pings) before treating the connection as dead. The
// server pings every ~10s, so 30s means ~3 missed pings.
var DefaultPingTimeout = 30 * time.Second

// ErrPingTimeout is returned when no frames are received within the ping timeout.
var ErrPingTimeout = errors.New("ping timeout: no frames received")

// maxReadSize caps the WebSocket frame size. Change frames carry single
// rows; anything larger is malformed.
const maxReadSize = 1 << 20 // 1 MB

// frame is a raw realtime JSON frame.
type frame struct {
	Type      string          `json:"type,omitempty"`
	Command   string          `json:"command,omitempty"`
	Relation  string          `json:"relation,omitempty"`
	Filter    store.Filter    `json:"filter,omitempty"`
	Change    json.RawMessage `json:"change,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Reconnect *bool           `json:"reconnect,omitempty"`
}

// Feed dials the realtime endpoint and exposes row-change
// subscriptions. It never reconnects on its own: a dropped
// subscription surfaces through Err and the caller decides whether and
// when to resubscribe (a resubscribe must be paired with a reload,
// since events during the gap are gone).
type Feed struct {
	URL         string
	Token       string
	PingTimeout time.Duration
}

// New builds a feed for the given endpoint.
func New(url, token string) *Feed {
	return &Feed{URL: url, Token: token, PingTimeout: DefaultPingTimeout}
}

var _ store.ChangeFeed = (*Feed)(nil)

// Subscribe opens a connection, negotiates the subscription, and
// returns once the server confirms it. Events delivered after the
// confirm are complete: the caller pairs Subscribe with a full reload
// to cover the window before it.
func (f *Feed) Subscribe(ctx context.Context, relation store.Relation, filter store.Filter) (store.Subscription, error) {
	header := http.Header{}
	if f.Token != "" {
		header.Set("Authorization", "Bearer "+f.Token)
	}
	conn, _, err := websocket.Dial(ctx, f.URL, &websocket.DialOptions{
		Subprotocols: []string{"wainbox-realtime-v1"},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	if err := readWelcome(ctx, conn); err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	if err := subscribe(ctx, conn, relation, filter); err != nil {
		_ = conn.CloseNow()
		return nil, err
	}

	sub := &subscription{
		conn:        conn,
		relation:    relation,
		pingTimeout: f.PingTimeout,
		events:      make(chan store.Event, 64),
		done:        make(chan struct{}),
	}
	go sub.listen(ctx)
	return sub, nil
}

func readWelcome(ctx context.Context, conn *websocket.Conn) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return fmt.Errorf("parse welcome: %w", err)
	}
	if fr.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %q (reason: %s)", fr.Type, fr.Reason)
	}
	return nil
}

func subscribe(ctx context.Context, conn *websocket.Conn, relation store.Relation, filter store.Filter) error {
	cmd := frame{Command: "subscribe", Relation: string(relation), Filter: filter}
	data, _ := json.Marshal(cmd)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	// Wait for confirm or reject, skipping pings that may arrive in between.
	for {
		_, resp, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read subscription response: %w", err)
		}
		var fr frame
		if err := json.Unmarshal(resp, &fr); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		switch fr.Type {
		case "confirm_subscription":
			return nil
		case "reject_subscription":
			return fmt.Errorf("subscription to %s rejected (check token)", relation)
		case "ping":
			continue
		default:
			return fmt.Errorf("unexpected response type: %q", fr.Type)
		}
	}
}

type subscription struct {
	conn        *websocket.Conn
	relation    store.Relation
	pingTimeout time.Duration
	events      chan store.Event
	done        chan struct{}
	err         error
}

var _ store.Subscription = (*subscription)(nil)

func (s *subscription) Events() <-chan store.Event { return s.events }

// Err reports why the event channel closed. Valid after the channel is
// closed.
func (s *subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *subscription) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}

// listen is the read loop. Frames are delivered in the order the server
// committed them; pings and control frames are handled silently.
//
// A rolling ping timeout detects half-dead connections: if no frame
// (including server pings) arrives within pingTimeout, the connection
// is treated as dead.
func (s *subscription) listen(ctx context.Context) {
	defer close(s.events)
	defer close(s.done)
	for {
		readCtx := ctx
		var readCancel context.CancelFunc
		if s.pingTimeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, s.pingTimeout)
		}

		_, data, err := s.conn.Read(readCtx)

		if readCancel != nil {
			readCancel()
		}

		if err != nil {
			// Distinguish ping timeout from parent context cancellation.
			if s.pingTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
				err = ErrPingTimeout
			}
			s.err = err
			return
		}

		var fr frame
		if err := json.Unmarshal(data, &fr); err != nil {
			continue // skip malformed frames
		}

		switch {
		case fr.Type == "ping":
			continue
		case fr.Type == "disconnect":
			reconnect := fr.Reconnect != nil && *fr.Reconnect
			s.err = fmt.Errorf("disconnect (reason=%s, reconnect=%v)", fr.Reason, reconnect)
			return
		case fr.Type == "change" && len(fr.Change) > 0:
			var ev store.Event
			if err := json.Unmarshal(fr.Change, &ev); err != nil {
				continue
			}
			if ev.Relation == "" {
				ev.Relation = s.relation
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			}
		}
	}
}
