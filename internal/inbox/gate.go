package inbox

import (
	"fmt"

	"github.com/wainbox/wainbox/internal/lifecycle"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Deny builds a denied decision.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Allow is the permitted decision.
var Allow = Decision{Allowed: true}

// NameResolver maps an agent id to a display name for denial reasons.
// A nil resolver falls back to the raw id.
type NameResolver func(agentID string) string

// CanSend decides whether acting may send to, transfer, or close conv.
// Rules are evaluated in order, first match wins:
//
//  1. conversation not found
//  2. conversation resolved
//  3. no assignee (must claim first)
//  4. assigned to someone else and acting is not admin
//  5. allowed
//
// Decisions are never cached: every relevant state change (assignment,
// transfer, close, role change) requires a fresh evaluation, and the
// session re-checks at the point of write as defense in depth.
func CanSend(conv *Conversation, acting Agent, resolve NameResolver) Decision {
	if conv == nil {
		return Deny("conversation not found")
	}
	if conv.Status == lifecycle.ConversationResolved {
		return Deny("conversation closed")
	}
	switch a := conv.Assignment; {
	case !a.Assigned():
		return Deny("must claim conversation first")
	case a.AgentID != acting.ID && acting.Role != lifecycle.RoleAdmin:
		name := a.AgentID
		if resolve != nil {
			if n := resolve(a.AgentID); n != "" {
				name = n
			}
		}
		return Deny(fmt.Sprintf("assigned to %s", name))
	}
	return Allow
}
