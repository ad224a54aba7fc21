package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/wainbox/wainbox/internal/config"
	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/lifecycle"
	"github.com/wainbox/wainbox/internal/store"
)

// setupTestStore wires a seeded in-memory store behind the env-based
// account config, restoring the real factories on cleanup.
func setupTestStore(t *testing.T) *store.Memory {
	t.Helper()

	t.Setenv("WAINBOX_STORE_URL", "postgres://wainbox@localhost/wainbox_test")
	t.Setenv("WAINBOX_STORE_TOKEN", "test-token")
	t.Setenv("WAINBOX_AGENT_ID", "agent-1")
	t.Setenv("WAINBOX_OUTPUT", "")

	mem := seedStore(t)

	origStore := openStore
	origFeed := openFeed
	t.Cleanup(func() {
		openStore = origStore
		openFeed = origFeed
	})
	openStore = func(config.Account) (store.Store, error) { return mem, nil }
	openFeed = func(config.Account) (store.ChangeFeed, error) { return mem, nil }
	return mem
}

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	agents := []inbox.Agent{
		{ID: "agent-1", Name: "Dana", Email: "dana@example.com", Role: lifecycle.RoleAdmin},
		{ID: "agent-2", Name: "Miguel", Email: "miguel@example.com", Role: lifecycle.RoleAgent},
	}
	for _, a := range agents {
		if _, err := mem.Insert(ctx, store.Agents, a); err != nil {
			t.Fatalf("seed agent: %v", err)
		}
	}

	now := time.Now().UnixMilli()
	conversations := []inbox.Conversation{
		{
			ID:          "conv-1",
			Phone:       "+15550001111",
			Name:        "Alice Johnson",
			Status:      lifecycle.ConversationNew,
			UnreadCount: 2,
			LastMessage: &inbox.MessageSummary{Content: "Hello, I need help", At: now},
			CreatedAt:   now - 60_000,
			UpdatedAt:   now,
		},
		{
			ID:         "conv-2",
			Phone:      "+15550002222",
			Status:     lifecycle.ConversationResolved,
			Assignment: inbox.AssignedTo("agent-2", time.UnixMilli(now-120_000)),
			LastMessage: &inbox.MessageSummary{
				Content: "Thanks, solved!",
				At:      now - 90_000,
			},
			CreatedAt: now - 600_000,
			UpdatedAt: now - 90_000,
		},
	}
	for _, c := range conversations {
		if _, err := mem.Insert(ctx, store.Conversations, inbox.EncodeConversation(c)); err != nil {
			t.Fatalf("seed conversation: %v", err)
		}
	}

	messages := []inbox.Message{
		{
			ID:             "msg-1",
			ConversationID: "conv-1",
			Content:        "Hello, I need help",
			SenderClass:    lifecycle.SenderCustomer,
			Status:         lifecycle.MessageRead,
			ContentType:    inbox.ContentText,
			CreatedAt:      now - 30_000,
		},
		{
			ID:             "msg-2",
			ConversationID: "conv-1",
			Content:        "Sure, what's the order number?",
			SenderClass:    lifecycle.SenderAgent,
			Status:         lifecycle.MessageDelivered,
			ContentType:    inbox.ContentText,
			CreatedAt:      now - 15_000,
		},
	}
	for _, m := range messages {
		if _, err := mem.Insert(ctx, store.Messages, m); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	tags := []inbox.Tag{
		{ID: "tag-1", Name: "billing", Color: "#ff0000", Description: "Billing questions"},
		{ID: "tag-2", Name: "urgent", Color: "#ffaa00"},
	}
	for _, tag := range tags {
		if _, err := mem.Insert(ctx, store.Tags, tag); err != nil {
			t.Fatalf("seed tag: %v", err)
		}
	}
	if _, err := mem.Insert(ctx, store.ConversationTags, inbox.ConversationTag{
		ID:             "ct-1",
		ConversationID: "conv-1",
		TagID:          "tag-1",
		AppliedBy:      "agent-2",
		AppliedAt:      now - 45_000,
	}); err != nil {
		t.Fatalf("seed conversation tag: %v", err)
	}
	return mem
}

// runCommand executes the CLI with stdout captured.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	execErr := Execute(context.Background(), args)

	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String(), execErr
}
