// Package inbound runs one webhook message through dedup, conversation resolution,
// the agent state gate, skill matching, escalation and the reply leg.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/switchboard/internal/agentstate"
	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/dedup"
	"github.com/memohai/switchboard/internal/escalation"
	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/fallback"
	"github.com/memohai/switchboard/internal/lead"
	"github.com/memohai/switchboard/internal/logger"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/outbound"
	"github.com/memohai/switchboard/internal/policy"
	"github.com/memohai/switchboard/internal/settings"
	"github.com/memohai/switchboard/internal/skills"
)

// Status is the outcome of Handle.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusStored    Status = "stored"
	StatusIgnored   Status = "ignored"
)

// ReplyKind says which branch produced the reply.
type ReplyKind string

const (
	ReplyNone     ReplyKind = ""
	ReplySkill    ReplyKind = "skill"
	ReplyFallback ReplyKind = "fallback"
	ReplyNotice   ReplyKind = "handover_notice"
)

// Result describes what Handle did.
type Result struct {
	Status         Status
	ConversationID string
	MessageID      string
	Gate           agentstate.Reason
	Escalation     escalation.Action
	Reply          ReplyKind
	ReplyMessageID string
	Delivered      bool
}

// Deduper reports earlier deliveries.
type Deduper interface {
	Seen(ctx context.Context, organizationID string, key dedup.Key) (bool, error)
}

// Resolver finds or creates conversations.
type Resolver interface {
	Resolve(ctx context.Context, in conversation.ResolveInput) (conversation.ResolveResult, error)
}

// ConversationState records inbound activity.
type ConversationState interface {
	TouchInbound(ctx context.Context, conversationID string, at time.Time) error
}

// SettingsSource loads organization settings.
type SettingsSource interface {
	Get(ctx context.Context, organizationID string) (settings.Settings, error)
}

// SkillSelector ranks and guards skills.
type SkillSelector interface {
	Select(ctx context.Context, organizationID, text string, threshold float64) skills.Selection
}

// Escalator decides and persists escalations.
type Escalator interface {
	Decide(ctx context.Context, in escalation.Input) escalation.Decision
	Apply(ctx context.Context, conversationID string, d escalation.Decision, at time.Time) error
}

// Responder builds fallback replies.
type Responder interface {
	Respond(ctx context.Context, req fallback.Request) fallback.Reply
}

// Dispatcher sends and records replies.
type Dispatcher interface {
	Dispatch(ctx context.Context, req outbound.Request) (outbound.Result, error)
}

// LeadTrigger starts lead extraction.
type LeadTrigger interface {
	Fire(ctx context.Context, s settings.Settings, req lead.Request) (bool, error)
}

// Deps are the collaborators of a Processor. Events may be nil.
type Deps struct {
	Dedup         Deduper
	Resolver      Resolver
	Conversations ConversationState
	Messages      message.Service
	Settings      SettingsSource
	Skills        SkillSelector
	Escalation    Escalator
	Fallback      Responder
	Outbound      Dispatcher
	Lead          LeadTrigger
	Events        event.Publisher
}

// Processor is the inbound pipeline. It holds no per-conversation state; every call is independent.
type Processor struct {
	deps         Deps
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// NewProcessor creates a processor; historyLimit bounds the turns passed to the fallback generator.
func NewProcessor(log *slog.Logger, deps Deps, historyLimit int) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = event.NopPublisher{}
	}
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Processor{
		deps:         deps,
		historyLimit: historyLimit,
		logger:       log.With(slog.String("service", "inbound")),
		now:          time.Now,
	}
}

// Handle processes one inbound event for account. A returned error means a
// persistence failure the provider should retry; every other outcome is in Result.
func (p *Processor) Handle(ctx context.Context, account channel.Account, ev channel.InboundEvent) (Result, error) {
	text := strings.TrimSpace(ev.Text)
	if text == "" || strings.TrimSpace(ev.ContactID) == "" {
		return Result{Status: StatusIgnored}, nil
	}
	orgID := account.OrganizationID
	ctx, _ = logger.With(ctx,
		slog.String("organization_id", orgID),
		slog.String("platform", account.Platform.String()),
		slog.String("contact_id", ev.ContactID))

	key := dedup.KeyFor(dedup.Source{
		Platform:          account.Platform.String(),
		ContactID:         ev.ContactID,
		ExternalMessageID: ev.ExternalMessageID,
		ReceivedAt:        ev.ReceivedAt,
		Text:              text,
	})
	seen, err := p.deps.Dedup.Seen(ctx, orgID, key)
	if err != nil {
		return Result{}, err
	}
	if seen {
		return Result{Status: StatusDuplicate}, nil
	}

	resolved, err := p.deps.Resolver.Resolve(ctx, conversation.ResolveInput{
		OrganizationID: orgID,
		Platform:       account.Platform.String(),
		ContactID:      ev.ContactID,
		ContactName:    ev.ContactName,
	})
	if err != nil {
		return Result{}, err
	}
	conv := resolved.Conversation
	res := Result{ConversationID: conv.ID}
	ctx, _ = logger.With(ctx, slog.String("conversation_id", conv.ID))

	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	receivedAt = receivedAt.UTC()
	inboundMsg, inserted, err := p.deps.Messages.PersistContact(ctx, message.PersistInput{
		ConversationID:    conv.ID,
		OrganizationID:    orgID,
		SenderType:        message.SenderContact,
		Content:           text,
		Metadata:          contactMetadata(ev, key),
		ExternalMessageID: key.Value,
		CreatedAt:         receivedAt,
	})
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		res.Status = StatusDuplicate
		return res, nil
	}
	res.MessageID = inboundMsg.ID
	if err := p.deps.Conversations.TouchInbound(ctx, conv.ID, receivedAt); err != nil {
		return Result{}, fmt.Errorf("touch conversation: %w", err)
	}

	orgSettings, action := p.botMode(ctx, orgID)
	gate := agentstate.Evaluate(conv, action)
	res.Gate = gate.Reason
	if !gate.Allowed {
		logger.FromContext(ctx).Debug("automated reply disallowed", slog.String("reason", string(gate.Reason)))
		res.Status = StatusStored
		return res, nil
	}

	selection := p.deps.Skills.Select(ctx, orgID, text, orgSettings.SimilarityThreshold)
	match, accepted := selection.Accepted()
	decision := p.deps.Escalation.Decide(ctx, escalation.Input{
		Match:         selection.Candidate,
		GuardAccepted: accepted,
		Conversation:  conv,
		Text:          text,
	})
	res.Escalation = decision.Action
	if decision.ShouldEscalate {
		if err := p.deps.Escalation.Apply(ctx, conv.ID, decision, p.now().UTC()); err != nil {
			return Result{}, err
		}
	}

	reply, err := p.reply(ctx, account, conv, inboundMsg, text, orgSettings, decision, match, accepted)
	if err != nil {
		return Result{}, err
	}
	res.Reply = reply.kind
	res.ReplyMessageID = reply.result.Message.ID
	res.Delivered = reply.result.Delivered
	res.Status = StatusProcessed

	p.runTasks(ctx, []task{
		{name: "publish_escalation", run: func(ctx context.Context) error {
			return p.publishEscalation(ctx, conv, decision)
		}},
		{name: "lead_extraction", run: func(ctx context.Context) error {
			_, err := p.deps.Lead.Fire(ctx, orgSettings, lead.Request{
				OrganizationID: orgID,
				ConversationID: conv.ID,
				Platform:       account.Platform.String(),
				ContactID:      conv.ContactID,
				TriggerMessage: inboundMsg.ID,
			})
			return err
		}},
	})
	return res, nil
}

// botMode loads settings; a read failure keeps the message but disallows automation.
func (p *Processor) botMode(ctx context.Context, orgID string) (settings.Settings, policy.BotModeAction) {
	s, err := p.deps.Settings.Get(ctx, orgID)
	if err != nil {
		logger.FromContext(ctx).Error("load organization settings failed", slog.Any("error", err))
		return settings.Settings{OrganizationID: orgID}, policy.BotModeAction{}
	}
	return s, policy.ResolveBotModeAction(s)
}

type sentReply struct {
	kind   ReplyKind
	result outbound.Result
}

func (p *Processor) reply(
	ctx context.Context,
	account channel.Account,
	conv conversation.Conversation,
	inboundMsg message.Message,
	text string,
	s settings.Settings,
	decision escalation.Decision,
	match skills.Match,
	accepted bool,
) (sentReply, error) {
	req := outbound.Request{
		Account:        account,
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		ContactID:      conv.ContactID,
		Metadata:       map[string]any{},
	}
	var kind ReplyKind
	switch {
	case decision.Switches():
		notice, ok := decision.Notice()
		if !ok {
			return sentReply{}, nil
		}
		kind = ReplyNotice
		req.Text = notice
		req.Metadata[message.MetaIsHandoverNotice] = true
		if accepted {
			req.Metadata[message.MetaSkillID] = match.SkillID
		}
	case accepted && strings.TrimSpace(match.ResponseText) != "":
		kind = ReplySkill
		req.Text = match.ResponseText
		req.Metadata[message.MetaSkillID] = match.SkillID
		req.Metadata[message.MetaSkillSimilarity] = match.Similarity
	default:
		kind = ReplyFallback
		fb := p.deps.Fallback.Respond(ctx, fallback.Request{
			OrganizationID:       conv.OrganizationID,
			Message:              text,
			RequiredIntakeFields: s.RequiredIntakeFields,
			History:              p.history(ctx, conv.ID, inboundMsg.ID),
			Language:             s.Language,
			Topics:               s.FallbackTopics,
		})
		req.Text = fb.Text
		req.Metadata[message.MetaIsFallback] = true
		if fb.Degraded {
			req.Metadata[message.MetaFallbackDegraded] = true
		}
	}
	result, err := p.deps.Outbound.Dispatch(ctx, req)
	if err != nil {
		return sentReply{}, err
	}
	return sentReply{kind: kind, result: result}, nil
}

// history returns earlier turns, without the message being answered. Read errors give no history.
func (p *Processor) history(ctx context.Context, conversationID, currentID string) []fallback.Turn {
	msgs, err := p.deps.Messages.ListRecent(ctx, conversationID, p.historyLimit+1)
	if err != nil {
		logger.FromContext(ctx).Warn("load history failed", slog.Any("error", err))
		return nil
	}
	turns := make([]fallback.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == currentID {
			continue
		}
		turns = append(turns, fallback.Turn{FromContact: m.SenderType == message.SenderContact, Content: m.Content})
	}
	if len(turns) > p.historyLimit {
		turns = turns[len(turns)-p.historyLimit:]
	}
	return turns
}

func (p *Processor) publishEscalation(ctx context.Context, conv conversation.Conversation, d escalation.Decision) error {
	if !d.ShouldEscalate {
		return nil
	}
	ev, err := event.New(event.TypeConversationEscalated, conv.OrganizationID, conv.ID, d)
	if err != nil {
		return err
	}
	return p.deps.Events.Publish(ctx, ev)
}

func contactMetadata(ev channel.InboundEvent, key dedup.Key) map[string]any {
	meta := make(map[string]any, len(ev.Metadata)+2)
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	if key.Synthetic {
		meta[message.MetaSyntheticDedupKey] = key.Value
	} else if key.Value != "" {
		meta[message.MetaExternalMessageID] = key.Value
	}
	if ev.AccountID != "" {
		meta[message.MetaChannelAccountID] = ev.AccountID
	}
	return meta
}
