package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/switchboard/internal/db"
)

// ErrNotFound is returned when no conversation matches.
var ErrNotFound = errors.New("conversation not found")

// Store is the persistence contract of conversations. Every mutation is a single-row update.
type Store interface {
	FindByIdentity(ctx context.Context, id Identity) (Conversation, error)
	// Insert creates the row; a concurrent insert of the same identity surfaces as a unique violation.
	Insert(ctx context.Context, in ResolveInput) (Conversation, error)
	Get(ctx context.Context, conversationID string) (Conversation, error)
	// TouchInbound bumps last_message_at and increments unread_count.
	TouchInbound(ctx context.Context, conversationID string, at time.Time) error
	// TouchOutbound bumps last_message_at only.
	TouchOutbound(ctx context.Context, conversationID string, at time.Time) error
	SetActiveAgent(ctx context.Context, conversationID string, agent Agent) error
	FlagHumanAttention(ctx context.Context, conversationID, reason string, at time.Time) error
	// Assign fails with ErrAssignedToAnother when another operator holds the conversation.
	Assign(ctx context.Context, conversationID, operatorID string) (Conversation, error)
	Release(ctx context.Context, conversationID string) (Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// DBStore implements Store on Postgres.
type DBStore struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewDBStore creates a Postgres conversation store.
func NewDBStore(log *slog.Logger, conn db.DBTX) *DBStore {
	if log == nil {
		log = slog.Default()
	}
	return &DBStore{
		db:     conn,
		logger: log.With(slog.String("store", "conversations")),
	}
}

// Columns is the select list ScanRow expects.
const Columns = `id, organization_id, platform, contact_id, contact_name, status, active_agent,
assignee_id, last_message_at, unread_count, tags, human_attention_required, human_attention_reason,
human_attention_at, created_at, updated_at`

type conversationRow struct {
	ID                     pgtype.UUID
	OrganizationID         pgtype.UUID
	Platform               string
	ContactID              string
	ContactName            string
	Status                 string
	ActiveAgent            string
	AssigneeID             pgtype.UUID
	LastMessageAt          pgtype.Timestamptz
	UnreadCount            int32
	Tags                   []string
	HumanAttentionRequired bool
	HumanAttentionReason   pgtype.Text
	HumanAttentionAt       pgtype.Timestamptz
	CreatedAt              pgtype.Timestamptz
	UpdatedAt              pgtype.Timestamptz
}

// ScanRow scans one row selected with Columns; no rows reads as ErrNotFound.
func ScanRow(row pgx.Row) (Conversation, error) {
	var r conversationRow
	if err := row.Scan(
		&r.ID, &r.OrganizationID, &r.Platform, &r.ContactID, &r.ContactName, &r.Status, &r.ActiveAgent,
		&r.AssigneeID, &r.LastMessageAt, &r.UnreadCount, &r.Tags, &r.HumanAttentionRequired,
		&r.HumanAttentionReason, &r.HumanAttentionAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	conv := Conversation{
		ID:                     db.UUIDToString(r.ID),
		OrganizationID:         db.UUIDToString(r.OrganizationID),
		Platform:               r.Platform,
		ContactID:              r.ContactID,
		ContactName:            r.ContactName,
		Status:                 r.Status,
		ActiveAgent:            ParseAgent(r.ActiveAgent),
		AssigneeID:             db.UUIDToString(r.AssigneeID),
		LastMessageAt:          db.TimeFromPg(r.LastMessageAt),
		UnreadCount:            int(r.UnreadCount),
		Tags:                   r.Tags,
		HumanAttentionRequired: r.HumanAttentionRequired,
		HumanAttentionReason:   db.TextToString(r.HumanAttentionReason),
		CreatedAt:              db.TimeFromPg(r.CreatedAt),
		UpdatedAt:              db.TimeFromPg(r.UpdatedAt),
	}
	if r.HumanAttentionAt.Valid {
		at := r.HumanAttentionAt.Time
		conv.HumanAttentionAt = &at
	}
	if conv.Tags == nil {
		conv.Tags = []string{}
	}
	return conv, nil
}

// FindByIdentity looks a conversation up by (organization, platform, contact).
func (s *DBStore) FindByIdentity(ctx context.Context, id Identity) (Conversation, error) {
	orgID, err := db.ParseUUID(id.OrganizationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid organization id: %w", err)
	}
	return ScanRow(s.db.QueryRow(ctx,
		`SELECT `+Columns+` FROM conversations
		 WHERE organization_id = $1 AND platform = $2 AND contact_id = $3`,
		orgID, id.Platform, id.ContactID,
	))
}

// Insert adds a new open conversation owned by the bot.
func (s *DBStore) Insert(ctx context.Context, in ResolveInput) (Conversation, error) {
	id := in.Identity()
	orgID, err := db.ParseUUID(id.OrganizationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid organization id: %w", err)
	}
	return ScanRow(s.db.QueryRow(ctx,
		`INSERT INTO conversations (organization_id, platform, contact_id, contact_name, status, active_agent)
		 VALUES ($1, $2, $3, $4, 'open', 'bot')
		 RETURNING `+Columns,
		orgID, id.Platform, id.ContactID, in.ContactName,
	))
}

// Get loads a conversation by id.
func (s *DBStore) Get(ctx context.Context, conversationID string) (Conversation, error) {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	return ScanRow(s.db.QueryRow(ctx,
		`SELECT `+Columns+` FROM conversations WHERE id = $1`, pgID))
}

func (s *DBStore) exec(ctx context.Context, op, conversationID, sql string, args ...any) error {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, sql, append([]any{pgID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchInbound records contact activity.
func (s *DBStore) TouchInbound(ctx context.Context, conversationID string, at time.Time) error {
	return s.exec(ctx, "touch inbound", conversationID,
		`UPDATE conversations
		 SET last_message_at = GREATEST(last_message_at, $2), unread_count = unread_count + 1,
		     status = 'open', updated_at = now()
		 WHERE id = $1`, at)
}

// TouchOutbound records bot or operator activity.
func (s *DBStore) TouchOutbound(ctx context.Context, conversationID string, at time.Time) error {
	return s.exec(ctx, "touch outbound", conversationID,
		`UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2), updated_at = now()
		 WHERE id = $1`, at)
}

// SetActiveAgent switches reply ownership.
func (s *DBStore) SetActiveAgent(ctx context.Context, conversationID string, agent Agent) error {
	return s.exec(ctx, "set active agent", conversationID,
		`UPDATE conversations SET active_agent = $2, updated_at = now() WHERE id = $1`, string(agent))
}

// FlagHumanAttention marks the conversation for operator review.
func (s *DBStore) FlagHumanAttention(ctx context.Context, conversationID, reason string, at time.Time) error {
	return s.exec(ctx, "flag human attention", conversationID,
		`UPDATE conversations
		 SET human_attention_required = TRUE, human_attention_reason = $2, human_attention_at = $3, updated_at = now()
		 WHERE id = $1`, reason, at)
}

// Assign gives an unassigned conversation to an operator in one conditional update.
// It returns ErrAssignedToAnother when a different operator already holds it.
func (s *DBStore) Assign(ctx context.Context, conversationID, operatorID string) (Conversation, error) {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	opID, err := db.ParseUUID(operatorID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid operator id: %w", err)
	}
	conv, err := ScanRow(s.db.QueryRow(ctx,
		`UPDATE conversations SET assignee_id = $2, active_agent = 'operator', updated_at = now()
		 WHERE id = $1 AND (assignee_id IS NULL OR assignee_id = $2)
		 RETURNING `+Columns, pgID, opID))
	if !errors.Is(err, ErrNotFound) {
		return conv, err
	}
	if _, getErr := s.Get(ctx, conversationID); getErr != nil {
		return Conversation{}, getErr
	}
	return Conversation{}, ErrAssignedToAnother
}

// Release hands the conversation back to the bot and clears the attention flag.
func (s *DBStore) Release(ctx context.Context, conversationID string) (Conversation, error) {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	return ScanRow(s.db.QueryRow(ctx,
		`UPDATE conversations
		 SET assignee_id = NULL, active_agent = 'bot', human_attention_required = FALSE,
		     human_attention_reason = NULL, human_attention_at = NULL, updated_at = now()
		 WHERE id = $1 RETURNING `+Columns, pgID))
}

// MarkRead resets the unread counter.
func (s *DBStore) MarkRead(ctx context.Context, conversationID string) error {
	return s.exec(ctx, "mark read", conversationID,
		`UPDATE conversations SET unread_count = 0, updated_at = now() WHERE id = $1`)
}
