// Package event carries pipeline notifications to operators (in-process hub) and to
// external workers (RabbitMQ).
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type names an event and its schema version.
type Type string

const (
	TypeMessageCreated          Type = "message.created.v1"
	TypeConversationEscalated   Type = "conversation.escalated.v1"
	TypeConversationAssigned    Type = "conversation.assigned.v1"
	TypeConversationReleased    Type = "conversation.released.v1"
	TypeLeadExtractionRequested Type = "lead.extraction.requested.v1"
)

// Event is an organization-scoped notification.
type Event struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	OrganizationID string          `json:"organization_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id and data marshaled to JSON.
func New(typ Type, organizationID, conversationID string, data any) (Event, error) {
	ev := Event{
		ID:             uuid.NewString(),
		Type:           typ,
		OrganizationID: strings.TrimSpace(organizationID),
		ConversationID: strings.TrimSpace(conversationID),
		OccurredAt:     time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s data: %w", typ, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every target and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
