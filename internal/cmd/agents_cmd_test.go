package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/wainbox/wainbox/internal/identity"
)

func TestAgentsList(t *testing.T) {
	setupTestStore(t)

	out, err := runCommand(t, "agents")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	for _, want := range []string{"Dana (you)", "Miguel", "admin", "agent"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q; got:\n%s", want, out)
		}
	}
}

func TestAgentsList_Presence(t *testing.T) {
	setupTestStore(t)

	srv := miniredis.RunT(t)
	t.Setenv("WAINBOX_REDIS_ADDR", srv.Addr())

	presence := identity.NewPresence(srv.Addr(), "", 0)
	defer func() { _ = presence.Close() }()
	if err := presence.Heartbeat(context.Background(), "agent-2"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	out, err := runCommand(t, "agents")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.Contains(line, "Miguel"):
			if !strings.Contains(line, "yes") {
				t.Errorf("Miguel should be online: %q", line)
			}
		case strings.Contains(line, "Dana"):
			if strings.Contains(line, "yes") {
				t.Errorf("Dana should be offline: %q", line)
			}
		}
	}
}

func TestAgentsList_JSON(t *testing.T) {
	setupTestStore(t)

	out, err := runCommand(t, "agents", "--json", "--jq", ".[].id")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(out, "agent-1") || !strings.Contains(out, "agent-2") {
		t.Fatalf("output = %q", out)
	}
}
