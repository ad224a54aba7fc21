package cmd

import (
	"strings"
	"testing"

	"github.com/99designs/keyring"

	"github.com/wainbox/wainbox/internal/config"
)

func withTestKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	restore := config.SetOpenKeyring(func(keyring.Config) (keyring.Keyring, error) {
		return ring, nil
	})
	t.Cleanup(restore)
}

func TestAuthLogin(t *testing.T) {
	withTestKeyring(t)

	out, err := runCommand(t, "auth", "login",
		"--store-url", "postgres://wainbox@db.example.com/wainbox",
		"--store-token", "secret-token",
		"--agent-id", "agent-1")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(out, `Credentials saved to profile "default".`) {
		t.Fatalf("output = %q", out)
	}

	account, err := config.LoadProfile("")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if account.StoreURL != "postgres://wainbox@db.example.com/wainbox" || account.AgentID != "agent-1" {
		t.Fatalf("stored account = %+v", account)
	}
}

func TestAuthLogin_RequiresStoreURL(t *testing.T) {
	withTestKeyring(t)

	_, err := runCommand(t, "auth", "login", "--agent-id", "agent-1")
	if err == nil {
		t.Fatal("expected error without --store-url")
	}
	if !strings.Contains(err.Error(), "--store-url is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestAuthLogin_RejectsNonPostgresURL(t *testing.T) {
	withTestKeyring(t)

	_, err := runCommand(t, "auth", "login",
		"--store-url", "https://db.example.com",
		"--agent-id", "agent-1")
	if err == nil {
		t.Fatal("expected error for non-postgres store URL")
	}
	if !strings.Contains(err.Error(), "postgres://") {
		t.Fatalf("error = %v", err)
	}
}

func TestAuthLogin_RejectsBadRealtimeURL(t *testing.T) {
	withTestKeyring(t)

	_, err := runCommand(t, "auth", "login",
		"--store-url", "postgres://wainbox@db.example.com/wainbox",
		"--agent-id", "agent-1",
		"--realtime-url", "https://relay.example.com")
	if err == nil {
		t.Fatal("expected error for non-websocket realtime URL")
	}
}

func TestAuthStatus_FromEnv(t *testing.T) {
	t.Setenv("WAINBOX_STORE_URL", "postgres://wainbox@db.example.com/wainbox")
	t.Setenv("WAINBOX_STORE_TOKEN", "secret-token")
	t.Setenv("WAINBOX_AGENT_ID", "agent-1")

	out, err := runCommand(t, "auth", "status")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	for _, want := range []string{
		"postgres://wainbox@db.example.com/wainbox",
		"agent-1",
		"****oken",
		"(unset)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q; got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret-token") {
		t.Fatal("status output leaks the raw token")
	}
}

func TestAuthLogoutAndProfiles(t *testing.T) {
	withTestKeyring(t)

	if _, err := runCommand(t, "auth", "login",
		"--store-url", "postgres://wainbox@db.example.com/wainbox",
		"--agent-id", "agent-1",
		"--profile", "work"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := runCommand(t, "auth", "profiles")
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	if !strings.Contains(out, "* work") {
		t.Fatalf("profiles output = %q", out)
	}

	out, err = runCommand(t, "auth", "logout", "--profile", "work")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out, "Credentials removed.") {
		t.Fatalf("output = %q", out)
	}
}
