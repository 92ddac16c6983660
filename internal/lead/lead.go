// Package lead asks an external worker to extract lead signals from a conversation.
package lead

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/settings"
)

const defaultTimeout = 30 * time.Second

// Request identifies the conversation to extract from.
type Request struct {
	OrganizationID  string `json:"organization_id"`
	ConversationID  string `json:"conversation_id"`
	Platform        string `json:"platform"`
	ContactID       string `json:"contact_id"`
	ContactMessages int    `json:"contact_messages"`
	TriggerMessage  string `json:"trigger_message_id,omitempty"`
}

// Extractor runs lead extraction.
type Extractor interface {
	Extract(ctx context.Context, req Request) error
}

// NopExtractor does nothing.
type NopExtractor struct{}

// Extract implements Extractor.
func (NopExtractor) Extract(context.Context, Request) error { return nil }

// EventExtractor publishes lead.extraction.requested.v1 for a worker to pick up.
type EventExtractor struct {
	publisher event.Publisher
}

// NewEventExtractor creates an extractor over publisher.
func NewEventExtractor(publisher event.Publisher) *EventExtractor {
	return &EventExtractor{publisher: publisher}
}

// Extract implements Extractor.
func (e *EventExtractor) Extract(ctx context.Context, req Request) error {
	ev, err := event.New(event.TypeLeadExtractionRequested, req.OrganizationID, req.ConversationID, req)
	if err != nil {
		return err
	}
	ev.CorrelationID = req.TriggerMessage
	if err := e.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish lead extraction request: %w", err)
	}
	return nil
}

// Counter counts a conversation's messages by sender.
type Counter interface {
	CountBySender(ctx context.Context, conversationID string, sender message.SenderType) (int, error)
}

// Trigger starts extraction once a conversation has enough contact messages.
type Trigger struct {
	counter   Counter
	extractor Extractor
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewTrigger creates a trigger; timeout bounds each detached run.
func NewTrigger(log *slog.Logger, counter Counter, extractor Extractor, timeout time.Duration) *Trigger {
	if log == nil {
		log = slog.Default()
	}
	if extractor == nil {
		extractor = NopExtractor{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Trigger{
		counter:   counter,
		extractor: extractor,
		timeout:   timeout,
		logger:    log.With(slog.String("service", "lead")),
	}
}

// Fire checks the organization's settings and, when they allow it, runs the
// extractor in the background detached from ctx's cancellation. It reports whether a run started.
func (t *Trigger) Fire(ctx context.Context, s settings.Settings, req Request) (bool, error) {
	if !s.LeadExtractionEnabled {
		return false, nil
	}
	count, err := t.counter.CountBySender(ctx, req.ConversationID, message.SenderContact)
	if err != nil {
		return false, fmt.Errorf("count contact messages: %w", err)
	}
	if count < s.LeadExtractionMinMessages {
		return false, nil
	}
	req.ContactMessages = count

	runCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("lead extraction panicked",
					slog.String("conversation_id", req.ConversationID),
					slog.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(runCtx, t.timeout)
		defer cancel()
		if err := t.extractor.Extract(ctx, req); err != nil {
			t.logger.Warn("lead extraction failed",
				slog.String("organization_id", req.OrganizationID),
				slog.String("conversation_id", req.ConversationID),
				slog.Any("error", err))
		}
	}()
	return true, nil
}

// Wait blocks until every started run finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
