package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// memoryStore is an in-memory Store that enforces the identity unique constraint.
type memoryStore struct {
	mu    sync.Mutex
	rows  map[Identity]Conversation
	byID  map[string]Identity
	seq   int
	finds atomic.Int32

	// findBarrier, when set, holds the first N FindByIdentity calls until all N arrived.
	findBarrier *sync.WaitGroup
	barrierN    int32
	findErr     error
	insertErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[Identity]Conversation{}, byID: map[string]Identity{}}
}

func (s *memoryStore) FindByIdentity(_ context.Context, id Identity) (Conversation, error) {
	n := s.finds.Add(1)
	if s.findBarrier != nil && n <= s.barrierN {
		s.findBarrier.Done()
		s.findBarrier.Wait()
	}
	if s.findErr != nil {
		return Conversation{}, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.rows[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *memoryStore) Insert(_ context.Context, in ResolveInput) (Conversation, error) {
	if s.insertErr != nil {
		return Conversation{}, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := in.Identity()
	if _, exists := s.rows[id]; exists {
		return Conversation{}, fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "conversations_identity_unique"})
	}
	s.seq++
	conv := Conversation{
		ID:             fmt.Sprintf("conv-%d", s.seq),
		OrganizationID: id.OrganizationID,
		Platform:       id.Platform,
		ContactID:      id.ContactID,
		ContactName:    in.ContactName,
		Status:         StatusOpen,
		ActiveAgent:    AgentBot,
		Tags:           []string{},
	}
	s.rows[id] = conv
	s.byID[conv.ID] = id
	return conv, nil
}

func (s *memoryStore) update(id string, fn func(*Conversation)) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	conv := s.rows[key]
	fn(&conv)
	s.rows[key] = conv
	return conv, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Conversation, error) {
	return s.update(id, func(*Conversation) {})
}

func (s *memoryStore) TouchInbound(_ context.Context, id string, at time.Time) error {
	_, err := s.update(id, func(c *Conversation) { c.LastMessageAt = at; c.UnreadCount++ })
	return err
}

func (s *memoryStore) TouchOutbound(_ context.Context, id string, at time.Time) error {
	_, err := s.update(id, func(c *Conversation) { c.LastMessageAt = at })
	return err
}

func (s *memoryStore) SetActiveAgent(_ context.Context, id string, agent Agent) error {
	_, err := s.update(id, func(c *Conversation) { c.ActiveAgent = agent })
	return err
}

func (s *memoryStore) FlagHumanAttention(_ context.Context, id, reason string, at time.Time) error {
	_, err := s.update(id, func(c *Conversation) {
		c.HumanAttentionRequired = true
		c.HumanAttentionReason = reason
		c.HumanAttentionAt = &at
	})
	return err
}

func (s *memoryStore) Assign(_ context.Context, id, operatorID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	conv := s.rows[key]
	if conv.HasAssignee() && conv.AssigneeID != operatorID {
		return Conversation{}, ErrAssignedToAnother
	}
	conv.AssigneeID = operatorID
	conv.ActiveAgent = AgentOperator
	s.rows[key] = conv
	return conv, nil
}

func (s *memoryStore) Release(_ context.Context, id string) (Conversation, error) {
	return s.update(id, func(c *Conversation) {
		c.AssigneeID = ""
		c.ActiveAgent = AgentBot
		c.HumanAttentionRequired = false
		c.HumanAttentionReason = ""
		c.HumanAttentionAt = nil
	})
}

func (s *memoryStore) MarkRead(_ context.Context, id string) error {
	_, err := s.update(id, func(c *Conversation) { c.UnreadCount = 0 })
	return err
}

func sampleInput() ResolveInput {
	return ResolveInput{OrganizationID: "org-1", Platform: "WhatsApp", ContactID: " 905321112233 ", ContactName: "Ayşe"}
}

func TestResolveCreatesThenFinds(t *testing.T) {
	store := newMemoryStore()
	r := NewResolver(nil, store)

	first, err := r.Resolve(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !first.Created {
		t.Fatal("expected first resolve to create")
	}
	if first.Conversation.Platform != "whatsapp" || first.Conversation.ContactID != "905321112233" {
		t.Fatalf("identity not normalized: %+v", first.Conversation)
	}

	second, err := r.Resolve(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if second.Created || second.Conversation.ID != first.Conversation.ID {
		t.Fatalf("expected existing conversation, got %+v", second)
	}
}

func TestResolveConcurrentCreatesExactlyOne(t *testing.T) {
	const callers = 2
	store := newMemoryStore()
	store.findBarrier = &sync.WaitGroup{}
	store.findBarrier.Add(callers)
	store.barrierN = callers
	r := NewResolver(nil, store)

	var wg sync.WaitGroup
	results := make([]ResolveResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), sampleInput())
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d surfaced error: %v", i, errs[i])
		}
		if results[i].Created {
			created++
		}
		if results[i].Conversation.ID != results[0].Conversation.ID {
			t.Fatalf("callers resolved different conversations: %q vs %q", results[i].Conversation.ID, results[0].Conversation.ID)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(store.rows))
	}
}

func TestResolveSurfacesOtherFailures(t *testing.T) {
	store := newMemoryStore()
	store.insertErr = errors.New("connection reset")
	r := NewResolver(nil, store)
	if _, err := r.Resolve(context.Background(), sampleInput()); err == nil {
		t.Fatal("expected insert failure to surface")
	}

	store = newMemoryStore()
	store.findErr = errors.New("timeout")
	r = NewResolver(nil, store)
	if _, err := r.Resolve(context.Background(), sampleInput()); err == nil {
		t.Fatal("expected find failure to surface")
	}
}

func TestResolveRequiresIdentity(t *testing.T) {
	r := NewResolver(nil, newMemoryStore())
	if _, err := r.Resolve(context.Background(), ResolveInput{OrganizationID: "org-1", Platform: "telegram"}); err == nil {
		t.Fatal("expected error for missing contact")
	}
}

func TestParseAgent(t *testing.T) {
	for raw, want := range map[string]Agent{"": AgentBot, "bot": AgentBot, "OPERATOR": AgentOperator, "ai": AgentBot} {
		if got := ParseAgent(raw); got != want {
			t.Fatalf("ParseAgent(%q) = %q, want %q", raw, got, want)
		}
	}
}
