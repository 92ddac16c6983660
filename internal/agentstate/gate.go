// Package agentstate decides whether the bot may answer a conversation turn.
package agentstate

import (
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/policy"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonAllowed          Reason = "allowed"
	ReasonAssigned         Reason = "assigned_to_operator"
	ReasonOperatorActive   Reason = "operator_active"
	ReasonBotModeDisallows Reason = "bot_mode_disallows"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Evaluate applies, in order: an assigned operator blocks, an operator-owned
// conversation blocks, then the bot mode decides.
func Evaluate(conv conversation.Conversation, action policy.BotModeAction) Decision {
	switch {
	case conv.HasAssignee():
		return Decision{Reason: ReasonAssigned}
	case conversation.ParseAgent(string(conv.ActiveAgent)) == conversation.AgentOperator:
		return Decision{Reason: ReasonOperatorActive}
	case !action.AllowReplies:
		return Decision{Reason: ReasonBotModeDisallows}
	default:
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}
}
