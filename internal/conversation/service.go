package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAssignedToAnother is returned when an operator tries to take over a conversation someone else holds.
var ErrAssignedToAnother = errors.New("conversation is assigned to another operator")

// Service exposes the operator-driven agent state transitions.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "conversation")),
	}
}

// Get returns a conversation scoped to organizationID when it is non-empty.
func (s *Service) Get(ctx context.Context, organizationID, conversationID string) (Conversation, error) {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if organizationID != "" && conv.OrganizationID != organizationID {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

// Takeover assigns the conversation to operatorID and silences the bot.
// Taking over a conversation the same operator already holds is a no-op.
func (s *Service) Takeover(ctx context.Context, conversationID, operatorID string) (Conversation, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return Conversation{}, errors.New("operator id is required")
	}
	current, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if current.HasAssignee() {
		if current.AssigneeID == operatorID {
			return current, nil
		}
		return Conversation{}, ErrAssignedToAnother
	}
	conv, err := s.store.Assign(ctx, conversationID, operatorID)
	if errors.Is(err, ErrAssignedToAnother) {
		return Conversation{}, err
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("assign conversation: %w", err)
	}
	s.logger.Info("operator took over",
		slog.String("conversation_id", conv.ID),
		slog.String("operator_id", operatorID),
	)
	return conv, nil
}

// Release returns the conversation to the bot.
func (s *Service) Release(ctx context.Context, conversationID string) (Conversation, error) {
	conv, err := s.store.Release(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	s.logger.Info("conversation released to bot", slog.String("conversation_id", conv.ID))
	return conv, nil
}

// MarkRead clears the unread counter.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	return s.store.MarkRead(ctx, conversationID)
}
