// Package gateway is the HTTP client for the external WhatsApp gateway
// service: the one collaborator that actually delivers messages to
// end-user devices. Delivery is at-most-once and fail-visible — the
// client never retries; a resend is an explicit user action and a new
// message.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wainbox/wainbox/internal/debug"
)

// DefaultTimeout bounds a single gateway call. The design tolerates a
// hung call leaving a message in sending; the transport timeout keeps
// that window finite without violating any ordering invariant.
const DefaultTimeout = 30 * time.Second

// Request is the normalized outbound payload. Phone must already be in
// canonical digit-only form (see NormalizePhone).
type Request struct {
	Phone    string `json:"phone"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Result is the gateway acknowledgment. GatewayMessageID correlates the
// message with later delivery/read status callbacks.
type Result struct {
	Success          bool   `json:"success"`
	GatewayMessageID string `json:"messageId,omitempty"`
	Error            string `json:"error,omitempty"`
}

// APIError is a non-success response from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, e.Body)
}

// Client talks to the gateway over HTTP.
type Client struct {
	BaseURL   string
	Token     string
	UserAgent string
	HTTP      *http.Client
}

// New creates a gateway client.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// SendMessage hands one message to the gateway. It returns the parsed
// acknowledgment on success. A non-2xx status, transport failure, or
// malformed response is an error; the caller marks the message failed
// and surfaces it — there is no retry here by design.
func (c *Client) SendMessage(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.BaseURL + "/api/messages/send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if debug.IsEnabled(ctx) {
		slog.Debug("gateway send", "status", resp.StatusCode, "phone", req.Phone, "type", req.Type, "duration", time.Since(start))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: sanitizeBody(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unexpected gateway response format: %w", err)
	}
	if !result.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: result.Error}
	}
	return &result, nil
}

// sanitizeBody extracts a safe error message from a gateway response
// without echoing tokens or payload content back to the user.
func sanitizeBody(body []byte) string {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != "" {
			return errResp.Error
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return "gateway request failed (response body redacted)"
}
