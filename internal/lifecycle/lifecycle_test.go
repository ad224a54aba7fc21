package lifecycle

import "testing"

func TestConversationTransitions(t *testing.T) {
	tests := []struct {
		name string
		from ConversationStatus
		to   ConversationStatus
		want bool
	}{
		{"new to active on assignment", ConversationNew, ConversationActive, true},
		{"new cannot skip to resolved", ConversationNew, ConversationResolved, false},
		{"active to active on transfer", ConversationActive, ConversationActive, true},
		{"active to resolved on close", ConversationActive, ConversationResolved, true},
		{"active cannot go back to new", ConversationActive, ConversationNew, false},
		{"resolved reopens to active", ConversationResolved, ConversationActive, true},
		{"resolved cannot go to new", ConversationResolved, ConversationNew, false},
		{"resolved is not self-renewing", ConversationResolved, ConversationResolved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPersistedProjection(t *testing.T) {
	pairs := []struct {
		working   ConversationStatus
		persisted PersistedStatus
	}{
		{ConversationNew, PersistedPending},
		{ConversationActive, PersistedInProgress},
		{ConversationResolved, PersistedResolved},
	}
	for _, p := range pairs {
		if got := p.working.Persisted(); got != p.persisted {
			t.Errorf("Persisted(%s) = %s, want %s", p.working, got, p.persisted)
		}
		if got := FromPersisted(p.persisted); got != p.working {
			t.Errorf("FromPersisted(%s) = %s, want %s", p.persisted, got, p.working)
		}
	}

	// Unknown stored values degrade to pending.
	if got := FromPersisted("snoozed"); got != ConversationNew {
		t.Errorf("FromPersisted(unknown) = %s, want %s", got, ConversationNew)
	}
}

func TestMessageStatusNeverRegresses(t *testing.T) {
	chain := []MessageStatus{MessageSending, MessageSent, MessageDelivered, MessageRead}

	for i, from := range chain {
		for j, to := range chain {
			got := from.CanAdvance(to)
			want := j > i
			if got != want {
				t.Errorf("CanAdvance(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMessageErrorReachability(t *testing.T) {
	tests := []struct {
		from MessageStatus
		want bool
	}{
		{MessageSending, true},
		{MessageSent, true},
		{MessageDelivered, false},
		{MessageRead, false},
		{MessageError, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvance(MessageError); got != tt.want {
			t.Errorf("CanAdvance(%s -> error) = %v, want %v", tt.from, got, tt.want)
		}
	}

	// Nothing leaves error.
	for _, to := range []MessageStatus{MessageSending, MessageSent, MessageDelivered, MessageRead} {
		if MessageError.CanAdvance(to) {
			t.Errorf("CanAdvance(error -> %s) should be false", to)
		}
	}
}

func TestSenderInitialStatus(t *testing.T) {
	if got := SenderCustomer.InitialStatus(); got != MessageDelivered {
		t.Errorf("customer initial status = %s, want %s", got, MessageDelivered)
	}
	if got := SenderAgent.InitialStatus(); got != MessageSending {
		t.Errorf("agent initial status = %s, want %s", got, MessageSending)
	}
}
