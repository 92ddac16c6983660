package channel

import (
	"context"
	"errors"
	"net/http"
)

// ErrInvalidSignature is returned when a webhook fails its authenticity check.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Adapter is implemented by every platform integration.
type Adapter interface {
	Type() Type
}

// WebhookVerifier checks that a webhook request came from the provider.
type WebhookVerifier interface {
	VerifyWebhook(account Account, header http.Header, body []byte) error
}

// WebhookDecoder turns a raw webhook body into zero or more inbound events.
// Payloads that carry no customer text (status callbacks, edits) yield no events.
type WebhookDecoder interface {
	DecodeWebhook(account Account, body []byte) ([]InboundEvent, error)
}

// InboundAdapter receives webhooks.
type InboundAdapter interface {
	Adapter
	WebhookVerifier
	WebhookDecoder
}

// Sender delivers a text message to a contact through the provider API.
type Sender interface {
	Send(ctx context.Context, account Account, msg OutboundMessage) (SendResult, error)
}
