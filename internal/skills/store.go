package skills

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/switchboard/internal/db"
)

// Store lists skills from Postgres.
type Store struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewStore creates a skills store.
func NewStore(log *slog.Logger, conn db.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     conn,
		logger: log.With(slog.String("store", "skills")),
	}
}

type skillRow struct {
	ID                    pgtype.UUID
	OrganizationID        pgtype.UUID
	Title                 string
	TriggerText           string
	ResponseText          string
	RequiresHumanHandover bool
	Enabled               bool
	UpdatedAt             pgtype.Timestamptz
}

// ListEnabled returns the organization's enabled skills ordered by title.
func (s *Store) ListEnabled(ctx context.Context, organizationID string) ([]Skill, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, organization_id, title, trigger_text, response_text, requires_human_handover, enabled, updated_at
		 FROM skills WHERE organization_id = $1 AND enabled
		 ORDER BY title, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		var r skillRow
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Title, &r.TriggerText, &r.ResponseText,
			&r.RequiresHumanHandover, &r.Enabled, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, Skill{
			ID:                    db.UUIDToString(r.ID),
			OrganizationID:        db.UUIDToString(r.OrganizationID),
			Title:                 r.Title,
			TriggerText:           r.TriggerText,
			ResponseText:          r.ResponseText,
			RequiresHumanHandover: r.RequiresHumanHandover,
			Enabled:               r.Enabled,
			UpdatedAt:             db.TimeFromPg(r.UpdatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	return out, nil
}
