package inbox

import (
	"sort"

	"github.com/wainbox/wainbox/internal/lifecycle"
	"github.com/wainbox/wainbox/internal/store"
)

// MessageStore is the ordered message log for the currently selected
// conversation. Messages are totally ordered by creation timestamp with
// ties broken by insertion order, and that order is stable across
// reconciliation: a temporary id being replaced by a server id keeps
// its position.
//
// Like ConversationStore, it is single-writer: the session serializes
// all mutations.
type MessageStore struct {
	conversationID string
	ordered        []*Message
	byID           map[string]*Message
	byToken        map[string]*Message
}

// NewMessageStore returns an empty log.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID:    make(map[string]*Message),
		byToken: make(map[string]*Message),
	}
}

// ConversationID returns the id of the loaded conversation, or "".
func (s *MessageStore) ConversationID() string { return s.conversationID }

// Reset clears all state when switching to a different conversation, so
// no messages bleed across conversations.
func (s *MessageStore) Reset(conversationID string) {
	s.conversationID = conversationID
	s.ordered = nil
	s.byID = make(map[string]*Message)
	s.byToken = make(map[string]*Message)
}

// ReplaceFromLoad installs a full history fetch, ordered ascending by
// creation time. Optimistic entries present before the load are kept if
// the fetch does not contain them (they are still in flight).
func (s *MessageStore) ReplaceFromLoad(conversationID string, msgs []Message) {
	pending := make([]Message, 0, 2)
	if s.conversationID == conversationID {
		for _, m := range s.ordered {
			if m.Temporary() {
				if _, fetched := containsToken(msgs, m.ClientToken); !fetched {
					pending = append(pending, *m)
				}
			}
		}
	}

	s.Reset(conversationID)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })
	for _, m := range msgs {
		s.insertTail(m)
	}
	for _, m := range pending {
		s.insertOrdered(m)
	}
}

// Append adds an optimistic local message at the tail.
func (s *MessageStore) Append(m Message) {
	if m.ConversationID != s.conversationID {
		return
	}
	if _, ok := s.byID[m.ID]; ok {
		return
	}
	s.insertTail(m)
}

// ResolvePersist replaces the temporary entry tempID with the persisted
// entity, in place, keeping the message's position. It returns false if
// the temporary entry no longer exists — the caller must re-check after
// every network await, since a concurrent event may have removed or
// superseded it.
func (s *MessageStore) ResolvePersist(tempID string, persisted Message) bool {
	old, ok := s.byID[tempID]
	if !ok {
		return false
	}
	s.replaceEntry(old, persisted)
	return true
}

// Remove drops a message by id. Used to roll back an optimistic entry
// whose persistence failed.
func (s *MessageStore) Remove(id string) bool {
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if m.ClientToken != "" {
		delete(s.byToken, m.ClientToken)
	}
	for i, e := range s.ordered {
		if e == m {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	return true
}

// AdvanceStatus applies a status transition to the message with the
// given id, subject to the no-regression rule. Returns false when the
// message is unknown or the transition is illegal (the update is
// discarded, not applied).
func (s *MessageStore) AdvanceStatus(id string, next Message) bool {
	return s.advance(id, next, true)
}

// SetStatus is AdvanceStatus with only a status value.
func (s *MessageStore) SetStatus(id string, status lifecycle.MessageStatus) bool {
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	next := *m
	next.Status = status
	return s.advance(id, next, false)
}

func (s *MessageStore) advance(id string, next Message, replaceFields bool) bool {
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	if m.Status != next.Status && !m.Status.CanAdvance(next.Status) {
		return false
	}
	if replaceFields {
		s.replaceEntry(m, next)
	} else {
		m.Status = next.Status
	}
	return true
}

// Receive applies a realtime event for the loaded conversation.
//
// Inserts deduplicate first by id, then by client token: the echo of
// the agent's own optimistic message supersedes the local entry in
// place (first-seen position wins) instead of creating a duplicate.
// Updates replace in place by id, subject to the no-regression rule;
// an out-of-order status event leaves state unchanged. Deletes remove
// by id. Unknown ids on update/delete are ignored.
func (s *MessageStore) Receive(ev store.Event) {
	m, err := DecodeMessage(ev.Row)
	if err != nil || m.ID == "" {
		return
	}
	if m.ConversationID != s.conversationID {
		return
	}

	switch ev.Type {
	case store.EventInsert:
		if _, ok := s.byID[m.ID]; ok {
			return
		}
		if m.ClientToken != "" {
			if local, ok := s.byToken[m.ClientToken]; ok {
				// Echo of our own send, possibly arriving before the
				// persist response. Supersede in place; never regress
				// a status the pipeline already advanced.
				if local.Status != m.Status && !local.Status.CanAdvance(m.Status) {
					m.Status = local.Status
				}
				s.replaceEntry(local, m)
				return
			}
		}
		s.insertOrdered(m)
	case store.EventUpdate:
		s.advance(m.ID, m, true)
	case store.EventDelete:
		s.Remove(m.ID)
	}
}

// Messages returns the log in order. The returned slice is a copy.
func (s *MessageStore) Messages() []Message {
	out := make([]Message, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = *m
	}
	return out
}

// Get returns a copy of the message with the given id.
func (s *MessageStore) Get(id string) (Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Last returns the newest message, if any.
func (s *MessageStore) Last() (Message, bool) {
	if len(s.ordered) == 0 {
		return Message{}, false
	}
	return *s.ordered[len(s.ordered)-1], true
}

// Len returns the number of messages in the log.
func (s *MessageStore) Len() int { return len(s.ordered) }

// replaceEntry swaps the stored entity behind an existing position.
// At most one entry per id exists at all times, including during the
// window where a temporary id becomes a server id.
func (s *MessageStore) replaceEntry(old *Message, next Message) {
	delete(s.byID, old.ID)
	if old.ClientToken != "" {
		delete(s.byToken, old.ClientToken)
	}
	*old = next
	s.byID[next.ID] = old
	if next.ClientToken != "" {
		s.byToken[next.ClientToken] = old
	}
}

func (s *MessageStore) insertTail(m Message) {
	mm := m
	s.ordered = append(s.ordered, &mm)
	s.byID[m.ID] = &mm
	if m.ClientToken != "" {
		s.byToken[m.ClientToken] = &mm
	}
}

// insertOrdered places m by creation timestamp; equal timestamps keep
// insertion order (the new entry goes after existing equals).
func (s *MessageStore) insertOrdered(m Message) {
	idx := sort.Search(len(s.ordered), func(i int) bool {
		return s.ordered[i].CreatedAt > m.CreatedAt
	})
	mm := m
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[idx+1:], s.ordered[idx:])
	s.ordered[idx] = &mm
	s.byID[m.ID] = &mm
	if m.ClientToken != "" {
		s.byToken[m.ClientToken] = &mm
	}
}

func containsToken(msgs []Message, token string) (Message, bool) {
	if token == "" {
		return Message{}, false
	}
	for _, m := range msgs {
		if m.ClientToken == token {
			return m, true
		}
	}
	return Message{}, false
}
