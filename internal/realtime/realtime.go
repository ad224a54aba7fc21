// Package realtime owns the change-feed subscription set for one
// session: global subscriptions for conversations, tags, tag joins and
// agents, plus at most one message subscription scoped to the selected
// conversation.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wainbox/wainbox/internal/store"
)

// EventSink consumes change events. Satisfied by *inbox.Session.
type EventSink interface {
	HandleEvent(ev store.Event)
}

// globalRelations are subscribed for the whole session lifetime.
var globalRelations = []store.Relation{
	store.Conversations,
	store.Tags,
	store.ConversationTags,
	store.Agents,
}

// Syncer pumps feed subscriptions into the sink. It does not reconnect
// on its own: a dropped subscription means events were lost, so the
// owner must reload state before resubscribing. OnDrop reports the
// drop; the default just logs it.
type Syncer struct {
	feed   store.ChangeFeed
	sink   EventSink
	OnDrop func(relation store.Relation, err error)

	mu       sync.Mutex
	global   []store.Subscription
	msgSub   store.Subscription
	selected string
	stopped  map[store.Subscription]struct{}
}

// NewSyncer builds a syncer over a feed and sink.
func NewSyncer(feed store.ChangeFeed, sink EventSink) *Syncer {
	return &Syncer{
		feed:    feed,
		sink:    sink,
		stopped: make(map[store.Subscription]struct{}),
	}
}

// Start opens the global subscriptions. On any failure the ones already
// opened are closed again, so a failed Start holds no resources.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.global) > 0 {
		return fmt.Errorf("realtime: already started")
	}

	for _, rel := range globalRelations {
		sub, err := s.feed.Subscribe(ctx, rel, nil)
		if err != nil {
			for _, open := range s.global {
				s.stopped[open] = struct{}{}
				_ = open.Close()
			}
			s.global = nil
			return fmt.Errorf("subscribe %s: %w", rel, err)
		}
		s.global = append(s.global, sub)
		go s.pump(rel, sub)
	}
	return nil
}

// SelectConversation replaces the per-conversation message subscription.
// The previous one is torn down first, so at most one exists; selecting
// the empty id just unsubscribes.
func (s *Syncer) SelectConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.msgSub != nil {
		s.stopped[s.msgSub] = struct{}{}
		_ = s.msgSub.Close()
		s.msgSub = nil
	}
	s.selected = conversationID
	if conversationID == "" {
		return nil
	}

	sub, err := s.feed.Subscribe(ctx, store.Messages, store.Filter{"conversation_id": conversationID})
	if err != nil {
		s.selected = ""
		return fmt.Errorf("subscribe messages: %w", err)
	}
	s.msgSub = sub
	go s.pump(store.Messages, sub)
	return nil
}

// Selected returns the conversation id the message subscription is
// scoped to, or "".
func (s *Syncer) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Close tears down every subscription.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.global {
		s.stopped[sub] = struct{}{}
		_ = sub.Close()
	}
	s.global = nil
	if s.msgSub != nil {
		s.stopped[s.msgSub] = struct{}{}
		_ = s.msgSub.Close()
		s.msgSub = nil
	}
	s.selected = ""
}

func (s *Syncer) pump(relation store.Relation, sub store.Subscription) {
	for ev := range sub.Events() {
		s.sink.HandleEvent(ev)
	}
	err := sub.Err()

	// A teardown we initiated is not a drop: the transport may still
	// surface its local close as an error.
	s.mu.Lock()
	_, intentional := s.stopped[sub]
	delete(s.stopped, sub)
	s.mu.Unlock()
	if err == nil || intentional {
		return
	}

	slog.Warn("realtime subscription dropped", "relation", relation, "error", err)
	if s.OnDrop != nil {
		s.OnDrop(relation, err)
	}
}
