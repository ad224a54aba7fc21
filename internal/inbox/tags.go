package inbox

import (
	"encoding/json"
	"sort"

	"github.com/wainbox/wainbox/internal/store"
)

// TagStore holds the tag vocabulary and the conversation-tag joins.
// Both relations are independently realtime-synchronized; the store is
// single-writer like the others.
type TagStore struct {
	vocab map[string]Tag
	// joins is keyed by conversation id, then tag id. A (conversation,
	// tag) pair is unique.
	joins map[string]map[string]ConversationTag
}

// NewTagStore returns an empty tag store.
func NewTagStore() *TagStore {
	return &TagStore{
		vocab: make(map[string]Tag),
		joins: make(map[string]map[string]ConversationTag),
	}
}

// ReplaceVocabulary installs a full fetch of the tag vocabulary.
func (s *TagStore) ReplaceVocabulary(tags []Tag) {
	s.vocab = make(map[string]Tag, len(tags))
	for _, t := range tags {
		s.vocab[t.ID] = t
	}
}

// ReplaceJoins installs a full fetch of conversation-tag rows.
func (s *TagStore) ReplaceJoins(rows []ConversationTag) {
	s.joins = make(map[string]map[string]ConversationTag, len(rows))
	for _, r := range rows {
		s.putJoin(r)
	}
}

// ApplyChange routes a realtime event for the tags or conversation_tags
// relation. Idempotent; malformed rows and unknown ids are ignored.
func (s *TagStore) ApplyChange(ev store.Event) {
	switch ev.Relation {
	case store.Tags:
		var t Tag
		if err := json.Unmarshal(ev.Row, &t); err != nil || t.ID == "" {
			return
		}
		switch ev.Type {
		case store.EventInsert, store.EventUpdate:
			s.vocab[t.ID] = t
		case store.EventDelete:
			delete(s.vocab, t.ID)
		}
	case store.ConversationTags:
		var r ConversationTag
		if err := json.Unmarshal(ev.Row, &r); err != nil || r.ConversationID == "" || r.TagID == "" {
			return
		}
		switch ev.Type {
		case store.EventInsert, store.EventUpdate:
			s.putJoin(r)
		case store.EventDelete:
			if byTag, ok := s.joins[r.ConversationID]; ok {
				delete(byTag, r.TagID)
			}
		}
	}
}

// AddJoin records a persisted (conversation, tag) pair written by a
// local operation. The realtime echo of the same row is absorbed
// idempotently.
func (s *TagStore) AddJoin(r ConversationTag) {
	s.putJoin(r)
}

// RemoveJoin drops a pair removed by a local operation.
func (s *TagStore) RemoveJoin(conversationID, tagID string) {
	if byTag, ok := s.joins[conversationID]; ok {
		delete(byTag, tagID)
	}
}

func (s *TagStore) putJoin(r ConversationTag) {
	byTag := s.joins[r.ConversationID]
	if byTag == nil {
		byTag = make(map[string]ConversationTag)
		s.joins[r.ConversationID] = byTag
	}
	byTag[r.TagID] = r
}

// Has reports whether the (conversation, tag) pair exists.
func (s *TagStore) Has(conversationID, tagID string) bool {
	_, ok := s.joins[conversationID][tagID]
	return ok
}

// JoinID returns the join-row id for a pair, if present.
func (s *TagStore) JoinID(conversationID, tagID string) (string, bool) {
	r, ok := s.joins[conversationID][tagID]
	return r.ID, ok
}

// Vocabulary returns all tags sorted by name.
func (s *TagStore) Vocabulary() []Tag {
	out := make([]Tag, 0, len(s.vocab))
	for _, t := range s.vocab {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TagByName resolves a tag by its unique name.
func (s *TagStore) TagByName(name string) (Tag, bool) {
	for _, t := range s.vocab {
		if t.Name == name {
			return t, true
		}
	}
	return Tag{}, false
}

// TagsFor returns the tags applied to a conversation, sorted by name.
func (s *TagStore) TagsFor(conversationID string) []Tag {
	byTag := s.joins[conversationID]
	out := make([]Tag, 0, len(byTag))
	for tagID := range byTag {
		if t, ok := s.vocab[tagID]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
