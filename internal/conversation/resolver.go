package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/switchboard/internal/db"
)

// Resolver finds or creates the conversation for an inbound message.
// It is the only component that creates conversations.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a Resolver over store.
func NewResolver(log *slog.Logger, store Store) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: log.With(slog.String("service", "conversation_resolver")),
	}
}

// Resolve looks the identity up and inserts it when absent. Losing a concurrent insert
// is not an error: the winner's row is re-read and returned with Created=false.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (ResolveResult, error) {
	id := in.Identity()
	if id.OrganizationID == "" || id.Platform == "" || id.ContactID == "" {
		return ResolveResult{}, errors.New("organization, platform and contact are required")
	}

	conv, err := r.store.FindByIdentity(ctx, id)
	if err == nil {
		return ResolveResult{Conversation: conv}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ResolveResult{}, fmt.Errorf("find conversation: %w", err)
	}

	conv, err = r.store.Insert(ctx, in)
	if err == nil {
		r.logger.Info("conversation created",
			slog.String("conversation_id", conv.ID),
			slog.String("organization_id", id.OrganizationID),
			slog.String("platform", id.Platform),
		)
		return ResolveResult{Conversation: conv, Created: true}, nil
	}
	if !db.IsUniqueViolation(err) {
		return ResolveResult{}, fmt.Errorf("create conversation: %w", err)
	}

	r.logger.Debug("conversation insert lost race, re-reading",
		slog.String("organization_id", id.OrganizationID),
		slog.String("platform", id.Platform),
	)
	conv, err = r.store.FindByIdentity(ctx, id)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("re-read conversation after conflict: %w", err)
	}
	return ResolveResult{Conversation: conv}, nil
}
