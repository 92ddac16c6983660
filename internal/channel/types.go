// Package channel defines the normalized inbound event, channel accounts and the adapter registry
// shared by the WhatsApp and Telegram integrations.
package channel

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies a messaging platform.
type Type string

const (
	TypeWhatsApp Type = "whatsapp"
	TypeTelegram Type = "telegram"
)

func (t Type) String() string {
	return string(t)
}

// ParseType normalizes raw into a known platform Type.
func ParseType(raw string) (Type, error) {
	switch t := normalizeType(raw); t {
	case TypeWhatsApp, TypeTelegram:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
}

// InboundEvent is a provider webhook message normalized for the pipeline.
type InboundEvent struct {
	OrganizationID    string
	AccountID         string
	Platform          Type
	ContactID         string
	ContactName       string
	Text              string
	ExternalMessageID string
	ReceivedAt        time.Time
	Metadata          map[string]any
}

// OutboundMessage is a plain text reply addressed to a contact.
type OutboundMessage struct {
	ContactID string
	Text      string
}

// SendResult carries what the provider returned for an accepted send.
type SendResult struct {
	ProviderMessageID string
}

func normalizeType(raw string) Type {
	return Type(strings.TrimSpace(strings.ToLower(raw)))
}
