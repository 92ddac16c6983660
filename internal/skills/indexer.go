package skills

import (
	"context"
	"fmt"
	"log/slog"
)

// Lister returns the skills to index.
type Lister interface {
	ListEnabled(ctx context.Context, organizationID string) ([]Skill, error)
}

// Indexer rebuilds an organization's vectors from the skills table.
type Indexer struct {
	skills Lister
	index  Index
	logger *slog.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(log *slog.Logger, skills Lister, index Index) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		skills: skills,
		index:  index,
		logger: log.With(slog.String("service", "skills_indexer")),
	}
}

// Reindex replaces the organization's points with its enabled skills and returns how many were written.
func (i *Indexer) Reindex(ctx context.Context, organizationID string) (int, error) {
	items, err := i.skills.ListEnabled(ctx, organizationID)
	if err != nil {
		return 0, err
	}
	if err := i.index.DeleteOrganization(ctx, organizationID); err != nil {
		return 0, err
	}
	if err := i.index.Upsert(ctx, items); err != nil {
		return 0, fmt.Errorf("index %d skills: %w", len(items), err)
	}
	i.logger.Info("skills reindexed",
		slog.String("organization_id", organizationID),
		slog.Int("count", len(items)))
	return len(items), nil
}
