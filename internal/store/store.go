// Package store defines the persistence and change-feed contracts the
// console core is written against. Rows cross the boundary as raw JSON
// documents; callers own the entity types and decode on their side.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Relation names the row sets the core reads and writes.
type Relation string

const (
	Conversations    Relation = "conversations"
	Messages         Relation = "messages"
	Tags             Relation = "tags"
	ConversationTags Relation = "conversation_tags"
	Agents           Relation = "agents"
)

// Filter is a conjunction of field equality constraints applied to the
// document fields of a row.
type Filter map[string]any

// Order describes result ordering for Select.
type Order struct {
	Field     string
	Desc      bool
	NullsLast bool
}

// ErrNotFound is returned by Update and Delete for an unknown row id.
var ErrNotFound = errors.New("store: row not found")

// Store is the persistence/query interface. Every call is an
// asynchronous boundary; implementations are fallible with transport or
// auth errors which the caller maps into its own taxonomy.
type Store interface {
	// Select returns rows matching filter, ordered by order. A zero
	// Order means implementation-defined ordering.
	Select(ctx context.Context, relation Relation, filter Filter, order Order) ([]json.RawMessage, error)

	// Insert persists a row and returns the canonical stored document.
	// The backend may issue the id and timestamps; callers must treat
	// the returned row, not the submitted one, as authoritative.
	Insert(ctx context.Context, relation Relation, row any) (json.RawMessage, error)

	// Update applies a partial patch to the row with the given id and
	// returns the updated document.
	Update(ctx context.Context, relation Relation, id string, patch map[string]any) (json.RawMessage, error)

	// Delete removes the row with the given id.
	Delete(ctx context.Context, relation Relation, id string) error
}

// EventType classifies a change-feed event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is a row-level change notification. Row holds the full document
// after the change (for deletes, the document as it was removed, or at
// minimum its id).
type Event struct {
	Type     EventType       `json:"type"`
	Relation Relation        `json:"relation"`
	Row      json.RawMessage `json:"row"`
}

// RowID extracts the id field from the event's row document.
func (e Event) RowID() string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Row, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// Subscription is a live change-feed handle. Events arrive in commit
// order for a single relation. The channel closes when the subscription
// ends; Err reports why.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// ChangeFeed subscribes to row-level change notifications for one
// relation, optionally scoped by an equality filter.
type ChangeFeed interface {
	Subscribe(ctx context.Context, relation Relation, filter Filter) (Subscription, error)
}
