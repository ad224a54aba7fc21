package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/wainbox/wainbox/internal/config"
	"github.com/wainbox/wainbox/internal/gateway"
	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/store"
)

func TestHandleError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantContains []string
	}{
		{
			name:         "nil error",
			err:          nil,
			wantContains: []string{},
		},
		{
			name: "not configured",
			err:  config.ErrNotConfigured,
			wantContains: []string{
				"Not configured",
				"wainbox auth login",
				"WAINBOX_STORE_URL",
			},
		},
		{
			name: "validation error",
			err:  &inbox.ValidationError{Field: "content", Reason: "exceeds maximum length"},
			wantContains: []string{
				"Invalid input (content)",
				"exceeds maximum length",
			},
		},
		{
			name: "permission error",
			err:  &inbox.PermissionError{Reason: "conversation is assigned to another agent"},
			wantContains: []string{
				"Not allowed",
				"conversations claim",
				"transfer",
			},
		},
		{
			name: "duplicate tag",
			err:  inbox.ErrDuplicateTag,
			wantContains: []string{
				"Tag already applied",
			},
		},
		{
			name: "delivery error",
			err:  &inbox.DeliveryError{GatewayStatus: 503, Err: errors.New("unavailable")},
			wantContains: []string{
				"Delivery failed",
				"saved",
				"error status",
			},
		},
		{
			name: "persist error",
			err:  &inbox.PersistError{Relation: store.Conversations, Err: errors.New("write timeout")},
			wantContains: []string{
				"Write failed",
				"rolled back",
			},
		},
		{
			name: "fetch error",
			err:  &inbox.FetchError{Relation: store.Messages, Err: errors.New("connection reset")},
			wantContains: []string{
				"Load failed",
				"store connection",
			},
		},
		{
			name: "not found",
			err:  store.ErrNotFound,
			wantContains: []string{
				"Not found",
				"Check the ID",
			},
		},
		{
			name: "gateway API error",
			err:  &gateway.APIError{StatusCode: 401, Body: "bad token"},
			wantContains: []string{
				"Gateway error (HTTP 401)",
				"wainbox auth status",
			},
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 127.0.0.1:5432: connection refused"),
			wantContains: []string{
				"Connection refused",
				"reachable",
			},
		},
		{
			name: "dns failure",
			err:  errors.New("lookup nope.example: no such host"),
			wantContains: []string{
				"DNS resolution failed",
			},
		},
		{
			name: "generic error",
			err:  errors.New("something odd"),
			wantContains: []string{
				"Error: something odd",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HandleError(tt.err)
			if tt.err == nil {
				if got != "" {
					t.Fatalf("HandleError(nil) = %q, want empty", got)
				}
				return
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("HandleError() missing %q; got:\n%s", want, got)
				}
			}
		})
	}
}
