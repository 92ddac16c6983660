package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/dedup"
	"github.com/memohai/switchboard/internal/escalation"
	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/fallback"
	"github.com/memohai/switchboard/internal/lead"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/outbound"
	"github.com/memohai/switchboard/internal/settings"
	"github.com/memohai/switchboard/internal/skills"
)

// memConversations is an in-memory conversation.Store with the identity unique constraint.
type memConversations struct {
	mu   sync.Mutex
	rows map[conversation.Identity]*conversation.Conversation
	byID map[string]*conversation.Conversation
	seq  int
}

func newMemConversations() *memConversations {
	return &memConversations{
		rows: map[conversation.Identity]*conversation.Conversation{},
		byID: map[string]*conversation.Conversation{},
	}
}

func (s *memConversations) FindByIdentity(_ context.Context, id conversation.Identity) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.rows[id]; ok {
		return *c, nil
	}
	return conversation.Conversation{}, conversation.ErrNotFound
}

func (s *memConversations) Insert(_ context.Context, in conversation.ResolveInput) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := in.Identity()
	if _, ok := s.rows[id]; ok {
		return conversation.Conversation{}, &pgconn.PgError{Code: "23505"}
	}
	s.seq++
	c := &conversation.Conversation{
		ID:             fmt.Sprintf("conv-%d", s.seq),
		OrganizationID: id.OrganizationID,
		Platform:       id.Platform,
		ContactID:      id.ContactID,
		ContactName:    in.ContactName,
		Status:         conversation.StatusOpen,
		ActiveAgent:    conversation.AgentBot,
	}
	s.rows[id] = c
	s.byID[c.ID] = c
	return *c, nil
}

func (s *memConversations) with(id string, fn func(*conversation.Conversation)) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	fn(c)
	return *c, nil
}

func (s *memConversations) Get(_ context.Context, id string) (conversation.Conversation, error) {
	return s.with(id, func(*conversation.Conversation) {})
}

func (s *memConversations) TouchInbound(_ context.Context, id string, at time.Time) error {
	_, err := s.with(id, func(c *conversation.Conversation) {
		if at.After(c.LastMessageAt) {
			c.LastMessageAt = at
		}
		c.UnreadCount++
	})
	return err
}

func (s *memConversations) TouchOutbound(_ context.Context, id string, at time.Time) error {
	_, err := s.with(id, func(c *conversation.Conversation) {
		if at.After(c.LastMessageAt) {
			c.LastMessageAt = at
		}
	})
	return err
}

func (s *memConversations) SetActiveAgent(_ context.Context, id string, agent conversation.Agent) error {
	_, err := s.with(id, func(c *conversation.Conversation) { c.ActiveAgent = agent })
	return err
}

func (s *memConversations) FlagHumanAttention(_ context.Context, id, reason string, at time.Time) error {
	_, err := s.with(id, func(c *conversation.Conversation) {
		c.HumanAttentionRequired = true
		c.HumanAttentionReason = reason
		c.HumanAttentionAt = &at
	})
	return err
}

func (s *memConversations) Assign(_ context.Context, id, operatorID string) (conversation.Conversation, error) {
	return s.with(id, func(c *conversation.Conversation) {
		c.AssigneeID = operatorID
		c.ActiveAgent = conversation.AgentOperator
	})
}

func (s *memConversations) Release(_ context.Context, id string) (conversation.Conversation, error) {
	return s.with(id, func(c *conversation.Conversation) {
		c.AssigneeID = ""
		c.ActiveAgent = conversation.AgentBot
	})
}

func (s *memConversations) MarkRead(_ context.Context, id string) error {
	_, err := s.with(id, func(c *conversation.Conversation) { c.UnreadCount = 0 })
	return err
}

func (s *memConversations) only(t *testing.T) conversation.Conversation {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byID) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(s.byID))
	}
	for _, c := range s.byID {
		return *c
	}
	return conversation.Conversation{}
}

// memMessages is an in-memory message.Service enforcing the contact external-id index.
type memMessages struct {
	mu         sync.Mutex
	rows       []message.Message
	external   map[string]bool
	persistErr error
}

func newMemMessages() *memMessages {
	return &memMessages{external: map[string]bool{}}
}

func (m *memMessages) PersistContact(_ context.Context, in message.PersistInput) (message.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return message.Message{}, false, m.persistErr
	}
	if in.ExternalMessageID != "" {
		key := in.OrganizationID + "/" + in.ExternalMessageID
		if m.external[key] {
			return message.Message{}, false, nil
		}
		m.external[key] = true
	}
	in.SenderType = message.SenderContact
	return m.appendLocked(in), true, nil
}

func (m *memMessages) Persist(_ context.Context, in message.PersistInput) (message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return message.Message{}, m.persistErr
	}
	return m.appendLocked(in), nil
}

func (m *memMessages) appendLocked(in message.PersistInput) message.Message {
	msg := message.Message{
		ID:                fmt.Sprintf("msg-%d", len(m.rows)+1),
		ConversationID:    in.ConversationID,
		OrganizationID:    in.OrganizationID,
		SenderType:        in.SenderType,
		Content:           in.Content,
		Metadata:          in.Metadata,
		ExternalMessageID: in.ExternalMessageID,
		CreatedAt:         in.CreatedAt,
	}
	m.rows = append(m.rows, msg)
	return msg
}

func (m *memMessages) ContactMessageExists(_ context.Context, orgID, ext string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.external[orgID+"/"+ext], nil
}

func (m *memMessages) ListRecent(_ context.Context, convID string, limit int) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for _, msg := range m.rows {
		if msg.ConversationID == convID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) CountBySender(_ context.Context, convID string, sender message.SenderType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.rows {
		if msg.ConversationID == convID && msg.SenderType == sender {
			n++
		}
	}
	return n, nil
}

func (m *memMessages) bySender(sender message.SenderType) []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for _, msg := range m.rows {
		if msg.SenderType == sender {
			out = append(out, msg)
		}
	}
	return out
}

type settingsMap map[string]settings.Settings

func (s settingsMap) Get(_ context.Context, orgID string) (settings.Settings, error) {
	if v, ok := s[orgID]; ok {
		return v, nil
	}
	return settings.Settings{OrganizationID: orgID, BotMode: settings.BotModeAuto, SimilarityThreshold: 0.6,
		Language: settings.DefaultLanguage, LeadExtractionMinMessages: 2}, nil
}

type stubRanker struct {
	mu      sync.Mutex
	matches []skills.Match
	calls   int
}

func (r *stubRanker) Rank(context.Context, string, string, float64) ([]skills.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.matches, nil
}

type stubGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  fallback.Request
}

func (g *stubGenerator) Generate(_ context.Context, req fallback.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = req
	return g.text, g.err
}

type sentMessage struct {
	account channel.Account
	msg     channel.OutboundMessage
	agent   conversation.Agent
}

// recordingSender records sends and the conversation's agent at send time.
type recordingSender struct {
	mu    sync.Mutex
	convs *memConversations
	sent  []sentMessage
	err   error
}

func (s *recordingSender) Type() channel.Type { return channel.TypeWhatsApp }

func (s *recordingSender) Send(_ context.Context, account channel.Account, msg channel.OutboundMessage) (channel.SendResult, error) {
	var agent conversation.Agent
	if c, err := s.convs.FindByIdentity(context.Background(), conversation.Identity{
		OrganizationID: account.OrganizationID, Platform: account.Platform.String(), ContactID: msg.ContactID,
	}); err == nil {
		agent = c.ActiveAgent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return channel.SendResult{}, s.err
	}
	s.sent = append(s.sent, sentMessage{account: account, msg: msg, agent: agent})
	return channel.SendResult{ProviderMessageID: fmt.Sprintf("wamid.out.%d", len(s.sent))}, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type senderMap map[channel.Type]channel.Sender

func (m senderMap) GetSender(t channel.Type) (channel.Sender, bool) {
	s, ok := m[t]
	return s, ok
}

type recordingExtractor struct {
	mu       sync.Mutex
	requests []lead.Request
}

func (r *recordingExtractor) Extract(_ context.Context, req lead.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
	panic  bool
}

func (c *capturePublisher) Publish(_ context.Context, ev event.Event) error {
	if c.panic {
		panic("publisher exploded")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

const testOrg = "org-1"

type harness struct {
	proc      *Processor
	convs     *memConversations
	msgs      *memMessages
	settings  settingsMap
	ranker    *stubRanker
	generator *stubGenerator
	sender    *recordingSender
	extractor *recordingExtractor
	events    *capturePublisher
	lead      *lead.Trigger
	account   channel.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		convs:     newMemConversations(),
		msgs:      newMemMessages(),
		settings:  settingsMap{},
		ranker:    &stubRanker{},
		generator: &stubGenerator{text: "Merhaba! Size nasıl yardımcı olabilirim?"},
		extractor: &recordingExtractor{},
		events:    &capturePublisher{},
		account:   channel.Account{ID: "acct-wa", OrganizationID: testOrg, Platform: channel.TypeWhatsApp, Enabled: true},
	}
	h.sender = &recordingSender{convs: h.convs}
	h.lead = lead.NewTrigger(nil, h.msgs, h.extractor, time.Second)
	h.proc = NewProcessor(nil, Deps{
		Dedup:         dedup.NewGate(nil, h.msgs),
		Resolver:      conversation.NewResolver(nil, h.convs),
		Conversations: h.convs,
		Messages:      h.msgs,
		Settings:      h.settings,
		Skills:        skills.NewMatcher(nil, h.ranker),
		Escalation:    escalation.NewService(nil, escalation.RulePolicy{}, h.convs),
		Fallback:      fallback.NewResponder(nil, h.generator),
		Outbound:      outbound.NewDispatcher(nil, senderMap{channel.TypeWhatsApp: h.sender}, h.msgs, h.convs, outbound.Options{}),
		Lead:          h.lead,
		Events:        h.events,
	}, 10)
	return h
}

func (h *harness) event(ext, text string) channel.InboundEvent {
	return channel.InboundEvent{
		OrganizationID:    testOrg,
		AccountID:         h.account.ID,
		Platform:          channel.TypeWhatsApp,
		ContactID:         "905551112233",
		ContactName:       "Ayşe",
		Text:              text,
		ExternalMessageID: ext,
		ReceivedAt:        time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC),
	}
}

func (h *harness) seed(t *testing.T, fn func(*conversation.Conversation)) conversation.Conversation {
	t.Helper()
	c, err := h.convs.Insert(context.Background(), conversation.ResolveInput{
		OrganizationID: testOrg, Platform: "whatsapp", ContactID: "905551112233", ContactName: "Ayşe",
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	c, _ = h.convs.with(c.ID, fn)
	return c
}

var errDBDown = errors.New("connection refused")
