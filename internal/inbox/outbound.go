package inbox

import (
	"context"
	"errors"

	"github.com/wainbox/wainbox/internal/gateway"
)

// Sender hands a message to the external delivery service. Satisfied by
// *gateway.Client.
type Sender interface {
	SendMessage(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Outbound maps persisted messages onto gateway requests. Delivery is
// at-most-once: a failed attempt is reported, never retried, and a
// resend is a brand-new message.
type Outbound struct {
	sender Sender
}

// NewOutbound wraps a gateway sender.
func NewOutbound(sender Sender) *Outbound {
	return &Outbound{sender: sender}
}

// Deliver sends one persisted message to the conversation's counterpart
// and returns the gateway's message id. Failures come back as a
// *DeliveryError; the caller folds the outcome into message status.
func (o *Outbound) Deliver(ctx context.Context, conv Conversation, msg Message) (string, error) {
	phone, err := gateway.NormalizePhone(conv.Phone)
	if err != nil {
		return "", &DeliveryError{Err: err}
	}

	req := gateway.Request{Phone: phone, Type: string(msg.ContentType)}
	switch msg.ContentType {
	case ContentText:
		req.Text = msg.Content
	default:
		if msg.Media == nil {
			return "", &DeliveryError{Err: errors.New("media message without media reference")}
		}
		req.MediaURL = msg.Media.URL
		req.Caption = msg.Media.Caption
	}

	res, err := o.sender.SendMessage(ctx, req)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			return "", &DeliveryError{GatewayStatus: apiErr.StatusCode, Err: err}
		}
		return "", &DeliveryError{Err: err}
	}
	return res.GatewayMessageID, nil
}
