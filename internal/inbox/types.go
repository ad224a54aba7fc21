// Package inbox holds the conversation/message synchronization core: the
// in-memory conversation list, the per-conversation message log with
// optimistic writes and reconciliation, the tag subsystem, the assignment
// gate, and the single-writer session that serializes all mutations.
package inbox

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wainbox/wainbox/internal/lifecycle"
)

// ContentType classifies message payloads.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentAudio, ContentVideo, ContentDocument:
		return true
	}
	return false
}

// PreviewText synthesizes the human-readable list-preview text for a
// media message of this type.
func (t ContentType) PreviewText(caption string) string {
	var label string
	switch t {
	case ContentImage:
		label = "Photo"
	case ContentAudio:
		label = "Audio"
	case ContentVideo:
		label = "Video"
	case ContentDocument:
		label = "Document"
	default:
		return caption
	}
	if caption != "" {
		return fmt.Sprintf("%s: %s", label, caption)
	}
	return label
}

// Assignment binds a conversation to an agent. The zero value means
// unassigned; Assigned distinguishes the two variants so gate rules can
// match exhaustively instead of probing nullable fields.
type Assignment struct {
	AgentID    string `json:"agent_id"`
	AssignedAt int64  `json:"assigned_at"`
}

// Unassigned is the empty assignment variant.
var Unassigned = Assignment{}

// AssignedTo builds the assigned variant.
func AssignedTo(agentID string, at time.Time) Assignment {
	return Assignment{AgentID: agentID, AssignedAt: at.UnixMilli()}
}

// Assigned reports whether the conversation has an assignee.
func (a Assignment) Assigned() bool { return a.AgentID != "" }

// MarshalJSON encodes Unassigned as null so the stored document keeps a
// nullable column shape.
func (a Assignment) MarshalJSON() ([]byte, error) {
	if !a.Assigned() {
		return []byte("null"), nil
	}
	type wire Assignment
	return json.Marshal(wire(a))
}

// UnmarshalJSON decodes null as Unassigned.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Unassigned
		return nil
	}
	type wire Assignment
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Assignment(w)
	return nil
}

// MessageSummary is the denormalized last-message preview on a
// conversation, used for list ordering.
type MessageSummary struct {
	Content string `json:"content"`
	At      int64  `json:"at"`
}

// Conversation is one customer thread. At most one conversation exists
// per counterpart phone number.
type Conversation struct {
	ID          string                       `json:"id"`
	Phone       string                       `json:"phone"`
	Name        string                       `json:"name,omitempty"`
	AvatarURL   string                       `json:"avatar_url,omitempty"`
	Status      lifecycle.ConversationStatus `json:"-"`
	Assignment  Assignment                   `json:"assignment"`
	LastMessage *MessageSummary              `json:"last_message,omitempty"`
	UnreadCount int                          `json:"unread_count"`
	CreatedAt   int64                        `json:"created_at"`
	UpdatedAt   int64                        `json:"updated_at"`
}

// DisplayName is the contact name, falling back to the phone number.
func (c *Conversation) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Phone
}

// LastActivityAt returns the last-message timestamp, or zero when the
// conversation has no message summary (sorted last).
func (c *Conversation) LastActivityAt() int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.At
}

// AwaitingResponse derives the implicit fourth persisted variant: the
// most recent message came from the customer and no agent has replied.
func (c *Conversation) AwaitingResponse(last *Message) bool {
	if c.Status == lifecycle.ConversationResolved || last == nil {
		return false
	}
	return last.SenderClass == lifecycle.SenderCustomer
}

// conversationDoc is the stored document shape. Status is persisted in
// its four-variant projection; in-memory code uses the working model.
type conversationDoc struct {
	ID          string          `json:"id"`
	Phone       string          `json:"phone"`
	Name        string          `json:"name,omitempty"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Status      string          `json:"status"`
	Assignment  Assignment      `json:"assignment"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// DecodeConversation parses a stored row into the working model.
func DecodeConversation(raw json.RawMessage) (Conversation, error) {
	var doc conversationDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return Conversation{
		ID:          doc.ID,
		Phone:       doc.Phone,
		Name:        doc.Name,
		AvatarURL:   doc.AvatarURL,
		Status:      lifecycle.FromPersisted(lifecycle.PersistedStatus(doc.Status)),
		Assignment:  doc.Assignment,
		LastMessage: doc.LastMessage,
		UnreadCount: doc.UnreadCount,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

// EncodeConversation renders the working model as a stored document.
func EncodeConversation(c Conversation) map[string]any {
	doc := map[string]any{
		"id":           c.ID,
		"phone":        c.Phone,
		"status":       string(c.Status.Persisted()),
		"assignment":   c.Assignment,
		"unread_count": c.UnreadCount,
		"created_at":   c.CreatedAt,
		"updated_at":   c.UpdatedAt,
	}
	if c.Name != "" {
		doc["name"] = c.Name
	}
	if c.AvatarURL != "" {
		doc["avatar_url"] = c.AvatarURL
	}
	if c.LastMessage != nil {
		doc["last_message"] = c.LastMessage
	}
	return doc
}

// MediaRef points at uploaded media consumed by sendMedia.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Message is one entry in a conversation's ordered log. IDs are opaque;
// a client-generated temporary id (tmp- prefix) is replaced in place by
// the server-issued id during reconciliation. ClientToken is the
// idempotency token persisted alongside the message and used to
// correlate the optimistic entry with its realtime echo.
type Message struct {
	ID             string                  `json:"id"`
	ClientToken    string                  `json:"client_token,omitempty"`
	ConversationID string                  `json:"conversation_id"`
	Content        string                  `json:"content"`
	SenderClass    lifecycle.SenderClass   `json:"sender_class"`
	Status         lifecycle.MessageStatus `json:"status"`
	ContentType    ContentType             `json:"content_type"`
	Media          *MediaRef               `json:"media,omitempty"`
	ReplyToID      string                  `json:"reply_to_id,omitempty"`
	GatewayID      string                  `json:"gateway_id,omitempty"`
	CreatedAt      int64                   `json:"created_at"`
}

// CreatedAtTime returns CreatedAt as time.Time.
func (m *Message) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// Temporary reports whether the message still carries a client-side id.
func (m *Message) Temporary() bool {
	return len(m.ID) > 4 && m.ID[:4] == "tmp-"
}

// DecodeMessage parses a stored row.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// Tag is one entry of the tag vocabulary.
type Tag struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// ConversationTag joins a conversation to a tag. A given pair is unique.
type ConversationTag struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TagID          string `json:"tag_id"`
	AppliedBy      string `json:"applied_by,omitempty"`
	AppliedAt      int64  `json:"applied_at"`
}

// Agent is a console user. Records are owned by the identity store; the
// core reads them only for assignment and permission decisions.
type Agent struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Email  string         `json:"email,omitempty"`
	Role   lifecycle.Role `json:"role"`
	Online bool           `json:"online,omitempty"`
}

// NewTempID generates a client-side temporary message id.
func NewTempID() string {
	return "tmp-" + randomHex(12)
}

// NewClientToken generates the idempotency token persisted with an
// outbound message.
func NewClientToken() string {
	return randomHex(16)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken;
		// fall back to a time-derived suffix.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
