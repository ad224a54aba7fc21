package inbox

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/wainbox/wainbox/internal/lifecycle"
	"github.com/wainbox/wainbox/internal/store"
)

// ConversationStore holds the authoritative in-memory conversation list
// for one agent session, ordered by most-recent-activity descending.
//
// The store is not safe for concurrent use: every mutation runs on the
// session's single writer goroutine, which is what lets a full reload
// merge with change events that raced it without locks.
type ConversationStore struct {
	byID map[string]*Conversation

	// seq increments on every mutation; touched records the seq at
	// which each conversation was last written. A reload completing
	// with snapshot gen keeps any entry touched after gen, so no event
	// is lost for racing a load.
	seq     uint64
	touched map[string]uint64
}

// NewConversationStore returns an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byID:    make(map[string]*Conversation),
		touched: make(map[string]uint64),
	}
}

// BeginLoad marks the start of a full reload and returns the generation
// to pass to CompleteLoad.
func (s *ConversationStore) BeginLoad() uint64 {
	return s.seq
}

// CompleteLoad merges a load response taken at generation gen. Fetched
// rows replace local state; entries mutated after gen (events that
// arrived while the load was in flight) survive; everything else is
// dropped. The union of known ids is preserved.
func (s *ConversationStore) CompleteLoad(gen uint64, convs []Conversation) {
	fetched := make(map[string]struct{}, len(convs))
	for i := range convs {
		c := convs[i]
		fetched[c.ID] = struct{}{}
		// An event newer than the load snapshot wins over the fetched row.
		if s.touched[c.ID] > gen {
			continue
		}
		s.put(c)
	}
	for id := range s.byID {
		if _, ok := fetched[id]; ok {
			continue
		}
		if s.touched[id] > gen {
			continue
		}
		delete(s.byID, id)
		delete(s.touched, id)
	}
}

// ApplyChange applies one realtime event idempotently. Inserts for a
// known id are ignored, updates replace by id, deletes remove by id;
// unknown ids on update/delete are silently ignored (the event raced a
// reload or removal). ApplyChange never fails: malformed rows are
// dropped.
func (s *ConversationStore) ApplyChange(ev store.Event) {
	conv, err := DecodeConversation(ev.Row)
	if err != nil || conv.ID == "" {
		return
	}
	switch ev.Type {
	case store.EventInsert:
		if _, ok := s.byID[conv.ID]; ok {
			return
		}
		s.put(conv)
	case store.EventUpdate:
		if _, ok := s.byID[conv.ID]; !ok {
			return
		}
		s.put(conv)
	case store.EventDelete:
		if _, ok := s.byID[conv.ID]; !ok {
			return
		}
		delete(s.byID, conv.ID)
		s.seq++
		s.touched[conv.ID] = s.seq
	}
}

// Put upserts a conversation written by a local operation (claim,
// transfer, close, optimistic mark-read).
func (s *ConversationStore) Put(c Conversation) {
	s.put(c)
}

func (s *ConversationStore) put(c Conversation) {
	s.seq++
	cc := c
	s.byID[c.ID] = &cc
	s.touched[c.ID] = s.seq
}

// Get returns a copy of the conversation with the given id.
func (s *ConversationStore) Get(id string) (Conversation, bool) {
	c, ok := s.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// ByPhone returns the conversation for a counterpart phone number. At
// most one exists.
func (s *ConversationStore) ByPhone(phone string) (Conversation, bool) {
	for _, c := range s.byID {
		if c.Phone == phone {
			return *c, true
		}
	}
	return Conversation{}, false
}

// ZeroUnread optimistically resets the unread counter. Unread is only
// ever reset to zero wholesale, never decremented piecewise.
func (s *ConversationStore) ZeroUnread(id string) bool {
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.UnreadCount = 0
	s.seq++
	s.touched[id] = s.seq
	return true
}

// Len returns the number of known conversations.
func (s *ConversationStore) Len() int { return len(s.byID) }

// StatusFilter selects conversations by working status; "all" or ""
// matches everything.
type StatusFilter string

const (
	FilterAll      StatusFilter = "all"
	FilterNew      StatusFilter = StatusFilter(lifecycle.ConversationNew)
	FilterActive   StatusFilter = StatusFilter(lifecycle.ConversationActive)
	FilterResolved StatusFilter = StatusFilter(lifecycle.ConversationResolved)
)

// Filter is a pure projection of the list: status-filtered, free-text
// matched over name and phone, ordered by last activity descending with
// nulls last and ties broken by id. Identical inputs produce identical
// order.
func (s *ConversationStore) Filter(status StatusFilter, query string) []Conversation {
	out := make([]Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		if status != "" && status != FilterAll && string(c.Status) != string(status) {
			continue
		}
		out = append(out, *c)
	}
	if q := strings.TrimSpace(query); q != "" {
		out = matchQuery(out, q)
	}

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivityAt(), out[j].LastActivityAt()
		if ai != aj {
			// Zero means no activity; those sort last.
			if ai == 0 || aj == 0 {
				return aj == 0
			}
			return ai > aj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type conversationNames []Conversation

func (s conversationNames) String(i int) string { return strings.ToLower(s[i].DisplayName()) }
func (s conversationNames) Len() int            { return len(s) }

// matchQuery keeps conversations whose display name fuzzy-matches the
// query or whose phone contains the query's digits. Match rank does not
// affect ordering; Filter keeps the activity order.
func matchQuery(convs []Conversation, query string) []Conversation {
	keep := make(map[int]struct{})

	for _, r := range fuzzy.FindFrom(strings.ToLower(query), conversationNames(convs)) {
		keep[r.Index] = struct{}{}
	}
	if digits := digitsOf(query); digits != "" {
		for i := range convs {
			if strings.Contains(digitsOf(convs[i].Phone), digits) {
				keep[i] = struct{}{}
			}
		}
	}

	out := make([]Conversation, 0, len(keep))
	for i := range convs {
		if _, ok := keep[i]; ok {
			out = append(out, convs[i])
		}
	}
	return out
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
