package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/store"
)

func TestNextBackoff(t *testing.T) {
	d := watchBackoffMin
	var seen []time.Duration
	for i := 0; i < 6; i++ {
		seen = append(seen, d)
		d = nextBackoff(d)
	}
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("backoff[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func eventRow(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestDescribeEvent(t *testing.T) {
	cases := []struct {
		name         string
		ev           store.Event
		wantContains []string
	}{
		{
			name: "message",
			ev: store.Event{
				Type:     store.EventInsert,
				Relation: store.Messages,
				Row: eventRow(t, inbox.Message{
					ID: "msg-9", ConversationID: "conv-1",
					Content: "hello there", Status: "sent",
				}),
			},
			wantContains: []string{"message insert msg-9", "(sent)", "hello there"},
		},
		{
			name: "conversation",
			ev: store.Event{
				Type:     store.EventUpdate,
				Relation: store.Conversations,
				Row: eventRow(t, map[string]any{
					"id": "conv-1", "status": "in_progress",
					"assignment":   map[string]any{"agent_id": "agent-2"},
					"unread_count": 3,
				}),
			},
			wantContains: []string{"conversation update conv-1", "status=active", "assignee=agent-2", "unread=3"},
		},
		{
			name: "tag",
			ev: store.Event{
				Type:     store.EventInsert,
				Relation: store.Tags,
				Row:      eventRow(t, inbox.Tag{ID: "tag-9", Name: "vip"}),
			},
			wantContains: []string{`tag insert "vip"`},
		},
		{
			name: "tag join",
			ev: store.Event{
				Type:     store.EventDelete,
				Relation: store.ConversationTags,
				Row:      eventRow(t, inbox.ConversationTag{ID: "ct-9", ConversationID: "conv-1", TagID: "tag-9"}),
			},
			wantContains: []string{"conversation conv-1 tag delete: tag-9"},
		},
		{
			name: "unparseable row falls back to relation and id",
			ev: store.Event{
				Type:     store.EventInsert,
				Relation: store.Messages,
				Row:      json.RawMessage(`{"id":""}`),
			},
			wantContains: []string{"messages insert"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := describeEvent(tc.ev)
			for _, want := range tc.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("describeEvent() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestWatchSink_JSONL(t *testing.T) {
	setupTestStore(t)

	sess, _, err := buildSession(t.Context())
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	defer sess.Close()

	var buf strings.Builder
	sink := &watchSink{session: sess, out: &buf, jsonl: true}

	ev := store.Event{
		Type:     store.EventInsert,
		Relation: store.Messages,
		Row:      eventRow(t, inbox.Message{ID: "msg-9", ConversationID: "conv-1", Content: "hi"}),
	}
	sink.HandleEvent(ev)

	line := strings.TrimSpace(buf.String())
	var decoded store.Event
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not one JSON line: %v\n%s", err, line)
	}
	if decoded.Relation != store.Messages || decoded.RowID() != "msg-9" {
		t.Fatalf("decoded event = %+v", decoded)
	}
}
