package message

import (
	"context"
	"time"
)

// SenderType is who authored a message.
type SenderType string

const (
	SenderContact  SenderType = "contact"
	SenderBot      SenderType = "bot"
	SenderOperator SenderType = "operator"
	SenderSystem   SenderType = "system"
)

// Metadata keys written by the pipeline.
const (
	MetaExternalMessageID = "externalMessageId"
	MetaSyntheticDedupKey = "syntheticDedupKey"
	MetaSkillID           = "skillId"
	MetaSkillSimilarity   = "skillSimilarity"
	MetaIsFallback        = "isFallback"
	MetaFallbackDegraded  = "fallbackDegraded"
	MetaIsHandoverNotice  = "isHandoverNotice"
	MetaDeliveryStatus    = "deliveryStatus"
	MetaDeliveryError     = "deliveryError"
	MetaProviderMessageID = "providerMessageId"
	MetaOperatorID        = "operatorId"
	MetaChannelAccountID  = "channelAccountId"
)

// Delivery status values stored under MetaDeliveryStatus.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Message is one persisted conversation message.
type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversation_id"`
	OrganizationID    string         `json:"organization_id"`
	SenderType        SenderType     `json:"sender_type"`
	Content           string         `json:"content"`
	Metadata          map[string]any `json:"metadata"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// PersistInput is the input for persisting a message.
type PersistInput struct {
	ConversationID    string
	OrganizationID    string
	SenderType        SenderType
	Content           string
	Metadata          map[string]any
	ExternalMessageID string
	CreatedAt         time.Time
}

// Writer persists messages.
type Writer interface {
	// PersistContact writes an inbound contact message. inserted is false when a
	// message with the same (organization, external id) already exists.
	PersistContact(ctx context.Context, input PersistInput) (msg Message, inserted bool, err error)
	Persist(ctx context.Context, input PersistInput) (Message, error)
}

// Reader reads messages.
type Reader interface {
	ContactMessageExists(ctx context.Context, organizationID, externalMessageID string) (bool, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]Message, error)
	CountBySender(ctx context.Context, conversationID string, sender SenderType) (int, error)
}

// Service defines message read/write behavior.
type Service interface {
	Writer
	Reader
}
