// Package escalation decides when a conversation needs a human and persists that transition.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/skills"
)

// Action is what the pipeline does with a decision.
type Action string

const (
	ActionNone             Action = "none"
	ActionSwitchToOperator Action = "switch_to_operator"
	ActionNotifyOnly       Action = "notify_only"
)

// NoticeMode controls whether the contact is told about a handover.
type NoticeMode string

const (
	NoticeNone    NoticeMode = "none"
	NoticeMessage NoticeMode = "message"
)

// Decision is the result of a Decider.
type Decision struct {
	ShouldEscalate bool       `json:"should_escalate"`
	Reason         string     `json:"reason,omitempty"`
	Action         Action     `json:"action"`
	NoticeMode     NoticeMode `json:"notice_mode,omitempty"`
	NoticeMessage  string     `json:"notice_message,omitempty"`
}

// None is the no-escalation decision.
func None() Decision {
	return Decision{Action: ActionNone, NoticeMode: NoticeNone}
}

// Switches reports whether the decision hands the conversation to an operator.
func (d Decision) Switches() bool {
	return d.ShouldEscalate && d.Action == ActionSwitchToOperator
}

// Notifies reports whether the decision only flags the conversation.
func (d Decision) Notifies() bool {
	return d.ShouldEscalate && d.Action == ActionNotifyOnly
}

// Notice returns the handover notice to send, if any.
func (d Decision) Notice() (string, bool) {
	msg := strings.TrimSpace(d.NoticeMessage)
	return msg, d.Switches() && d.NoticeMode == NoticeMessage && msg != ""
}

// Input is what a Decider sees for one turn. Match is nil when no skill ranked.
type Input struct {
	Match         *skills.Match
	GuardAccepted bool
	Conversation  conversation.Conversation
	Text          string
}

// Decider decides whether a turn escalates.
type Decider interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// StateStore persists escalation transitions.
type StateStore interface {
	SetActiveAgent(ctx context.Context, conversationID string, agent conversation.Agent) error
	FlagHumanAttention(ctx context.Context, conversationID, reason string, at time.Time) error
}

// Service runs a Decider and applies its decision.
type Service struct {
	decider Decider
	store   StateStore
	logger  *slog.Logger
}

// NewService creates an escalation service.
func NewService(log *slog.Logger, decider Decider, store StateStore) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		decider: decider,
		store:   store,
		logger:  log.With(slog.String("service", "escalation")),
	}
}

// Decide asks the decider; an error or unknown action reads as no escalation.
func (s *Service) Decide(ctx context.Context, in Input) Decision {
	if s.decider == nil {
		return None()
	}
	d, err := s.decider.Decide(ctx, in)
	if err != nil {
		s.logger.Warn("escalation decision failed",
			slog.String("conversation_id", in.Conversation.ID),
			slog.Any("error", err))
		return None()
	}
	switch d.Action {
	case ActionSwitchToOperator, ActionNotifyOnly:
	default:
		return None()
	}
	if !d.ShouldEscalate {
		return None()
	}
	if d.NoticeMode == "" {
		d.NoticeMode = NoticeNone
	}
	return d
}

// Apply persists the transition of d. It must run before any reply tied to the decision.
func (s *Service) Apply(ctx context.Context, conversationID string, d Decision, at time.Time) error {
	switch {
	case d.Switches():
		if err := s.store.SetActiveAgent(ctx, conversationID, conversation.AgentOperator); err != nil {
			return fmt.Errorf("switch to operator: %w", err)
		}
		s.logger.Info("conversation handed to operator",
			slog.String("conversation_id", conversationID),
			slog.String("reason", d.Reason))
	case d.Notifies():
		if err := s.store.FlagHumanAttention(ctx, conversationID, d.Reason, at); err != nil {
			return fmt.Errorf("flag human attention: %w", err)
		}
		s.logger.Info("conversation flagged for human attention",
			slog.String("conversation_id", conversationID),
			slog.String("reason", d.Reason))
	}
	return nil
}
