package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/store"
)

func TestSend_RequiresTextOrMedia(t *testing.T) {
	setupTestStore(t)

	_, err := runCommand(t, "send", "conv-1")
	if err == nil {
		t.Fatal("expected error without text or media")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Fatalf("error = %v", err)
	}
}

func TestSend_RejectsTextWithMedia(t *testing.T) {
	setupTestStore(t)

	_, err := runCommand(t, "send", "conv-1", "hello",
		"--media-type", "image", "--media-url", "https://cdn.example.com/a.jpg")
	if err == nil {
		t.Fatal("expected error combining text and media")
	}
	if !strings.Contains(err.Error(), "cannot be combined") {
		t.Fatalf("error = %v", err)
	}
}

func TestSend_MediaRequiresType(t *testing.T) {
	setupTestStore(t)

	_, err := runCommand(t, "send", "conv-1", "--media-url", "https://cdn.example.com/a.jpg")
	if err == nil {
		t.Fatal("expected error for missing --media-type")
	}
	if !strings.Contains(err.Error(), "--media-type is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestSend_UnclaimedConversationDenied(t *testing.T) {
	setupTestStore(t)

	_, err := runCommand(t, "send", "conv-1", "hello")
	if err == nil {
		t.Fatal("expected permission error on unclaimed conversation")
	}
	if !inbox.IsPermissionError(err) {
		t.Fatalf("err = %v, want permission error", err)
	}
	if got := ExitCode(err); got != exitForbidden {
		t.Fatalf("ExitCode = %d, want %d", got, exitForbidden)
	}
}

func TestSend_SuccessfulDeliveryMarksSent(t *testing.T) {
	mem := setupTestStore(t)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/send" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"messageId":"wamid.42"}`))
	}))
	defer gw.Close()
	t.Setenv("WAINBOX_GATEWAY_URL", gw.URL)

	if _, err := runCommand(t, "conversations", "claim", "conv-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	out, err := runCommand(t, "send", "conv-1", "your order shipped")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "status: sent") {
		t.Fatalf("output = %q, want sent status", out)
	}

	rows, err := mem.Select(context.Background(), store.Messages, store.Filter{"conversation_id": "conv-1"}, store.Order{})
	if err != nil {
		t.Fatalf("select messages: %v", err)
	}
	found := false
	for _, raw := range rows {
		var m inbox.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		if m.Content != "your order shipped" {
			continue
		}
		found = true
		if string(m.Status) != "sent" {
			t.Fatalf("stored status = %s, want sent", m.Status)
		}
		if m.GatewayID != "wamid.42" {
			t.Fatalf("stored gateway id = %q", m.GatewayID)
		}
	}
	if !found {
		t.Fatal("sent message not persisted")
	}
}

func TestSend_GatewayUnconfiguredPersistsErrorMessage(t *testing.T) {
	mem := setupTestStore(t)

	if _, err := runCommand(t, "conversations", "claim", "conv-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := runCommand(t, "send", "conv-1", "checking on your order")
	if err == nil {
		t.Fatal("expected delivery error without a configured gateway")
	}
	if !inbox.IsDeliveryError(err) {
		t.Fatalf("err = %v, want delivery error", err)
	}
	if got := ExitCode(err); got != exitDelivery {
		t.Fatalf("ExitCode = %d, want %d", got, exitDelivery)
	}

	// The optimistic write survives the failed delivery with error status.
	rows, selErr := mem.Select(context.Background(), store.Messages, store.Filter{"conversation_id": "conv-1"}, store.Order{})
	if selErr != nil {
		t.Fatalf("select messages: %v", selErr)
	}
	found := false
	for _, raw := range rows {
		var m inbox.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		if m.Content == "checking on your order" {
			found = true
			if string(m.Status) != "error" {
				t.Fatalf("message status = %s, want error", m.Status)
			}
		}
	}
	if !found {
		t.Fatal("sent message not persisted")
	}
}

func TestSend_ResolvedConversationDenied(t *testing.T) {
	setupTestStore(t)

	_, err := runCommand(t, "send", "conv-2", "hello again")
	if err == nil {
		t.Fatal("expected permission error on resolved conversation")
	}
	if !inbox.IsPermissionError(err) {
		t.Fatalf("err = %v, want permission error", err)
	}
}
