// Package lifecycle defines conversation and message states and their
// legal transitions. It has no dependencies and is consumed by every
// store that mutates state.
package lifecycle

// ConversationStatus is the three-variant working status of a conversation.
type ConversationStatus string

const (
	ConversationNew      ConversationStatus = "new"
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
)

// PersistedStatus is the four-variant projection stored by the backend.
// The fourth variant ("awaiting response") is not stored; it is derived
// from whether the most recent message came from the customer.
type PersistedStatus string

const (
	PersistedPending    PersistedStatus = "pending"
	PersistedInProgress PersistedStatus = "in_progress"
	PersistedResolved   PersistedStatus = "resolved"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationNew, ConversationActive, ConversationResolved:
		return true
	}
	return false
}

// Persisted maps the working status to its stored projection.
func (s ConversationStatus) Persisted() PersistedStatus {
	switch s {
	case ConversationNew:
		return PersistedPending
	case ConversationActive:
		return PersistedInProgress
	default:
		return PersistedResolved
	}
}

// FromPersisted maps a stored status back to the working model.
// Unknown values are treated as pending rather than rejected, since the
// store is shared with writers outside this process.
func FromPersisted(p PersistedStatus) ConversationStatus {
	switch p {
	case PersistedInProgress:
		return ConversationActive
	case PersistedResolved:
		return ConversationResolved
	default:
		return ConversationNew
	}
}

// CanTransition reports whether a conversation may move from s to next.
//
//	new      -> active     on assignment
//	active   -> active     on transfer (assignee changes, status unchanged)
//	active   -> resolved   on explicit close
//	resolved -> active     on re-assignment (reopen)
//
// A conversation never becomes resolved without passing through active,
// so there is no new -> resolved edge.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	switch s {
	case ConversationNew:
		return next == ConversationActive
	case ConversationActive:
		return next == ConversationActive || next == ConversationResolved
	case ConversationResolved:
		return next == ConversationActive
	}
	return false
}

// MessageStatus is the delivery status of a message. Agent-authored
// messages walk the ordered chain sending -> sent -> delivered -> read;
// error is terminal and reachable from sending or sent.
type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageError     MessageStatus = "error"
)

// Valid reports whether s is a known message status.
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageSending, MessageSent, MessageDelivered, MessageRead, MessageError:
		return true
	}
	return false
}

// Rank orders the success chain. Error and unknown values rank -1 and are
// handled explicitly by CanAdvance.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageSending:
		return 0
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return -1
}

// CanAdvance reports whether a status update from s to next is legal.
// Status never regresses: an out-of-order update must be discarded by the
// caller, not applied. Error is reachable only from sending or sent, and
// nothing leaves error.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if !next.Valid() || s == next {
		return false
	}
	if next == MessageError {
		return s == MessageSending || s == MessageSent
	}
	if s == MessageError {
		return false
	}
	return next.Rank() > s.Rank()
}

// SenderClass identifies who authored a message. Exactly two variants.
type SenderClass string

const (
	SenderCustomer SenderClass = "customer"
	SenderAgent    SenderClass = "agent"
)

// InitialStatus returns the status a newly created message carries.
// Customer messages are born terminal; they never pass through sending.
func (c SenderClass) InitialStatus() MessageStatus {
	if c == SenderCustomer {
		return MessageDelivered
	}
	return MessageSending
}

// Role is an agent's permission level.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleAgent      Role = "agent"
)
