// Package message provides conversation message persistence.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/switchboard/internal/db"
	"github.com/memohai/switchboard/internal/event"
)

// DBService persists and reads messages in Postgres and announces new ones.
type DBService struct {
	db        db.DBTX
	logger    *slog.Logger
	publisher event.Publisher
}

// NewService creates a message service; publisher may be nil.
func NewService(log *slog.Logger, conn db.DBTX, publisher event.Publisher) *DBService {
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	return &DBService{
		db:        conn,
		logger:    log.With(slog.String("service", "message")),
		publisher: publisher,
	}
}

const messageColumns = `id, conversation_id, organization_id, sender_type, content, metadata, external_message_id, created_at`

type messageRow struct {
	ID                pgtype.UUID
	ConversationID    pgtype.UUID
	OrganizationID    pgtype.UUID
	SenderType        string
	Content           string
	Metadata          []byte
	ExternalMessageID pgtype.Text
	CreatedAt         pgtype.Timestamptz
}

func (r *messageRow) scan(row pgx.Row) error {
	return row.Scan(&r.ID, &r.ConversationID, &r.OrganizationID, &r.SenderType, &r.Content, &r.Metadata, &r.ExternalMessageID, &r.CreatedAt)
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:                db.UUIDToString(r.ID),
		ConversationID:    db.UUIDToString(r.ConversationID),
		OrganizationID:    db.UUIDToString(r.OrganizationID),
		SenderType:        SenderType(r.SenderType),
		Content:           r.Content,
		Metadata:          parseJSONMap(r.Metadata),
		ExternalMessageID: db.TextToString(r.ExternalMessageID),
		CreatedAt:         db.TimeFromPg(r.CreatedAt),
	}
}

type insertParams struct {
	conversationID pgtype.UUID
	organizationID pgtype.UUID
	metadata       []byte
	createdAt      time.Time
}

func prepareInsert(input PersistInput) (insertParams, error) {
	convID, err := db.ParseUUID(input.ConversationID)
	if err != nil {
		return insertParams{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	orgID, err := db.ParseUUID(input.OrganizationID)
	if err != nil {
		return insertParams{}, fmt.Errorf("invalid organization id: %w", err)
	}
	meta, err := json.Marshal(nonNilMap(input.Metadata))
	if err != nil {
		return insertParams{}, fmt.Errorf("marshal message metadata: %w", err)
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return insertParams{conversationID: convID, organizationID: orgID, metadata: meta, createdAt: createdAt}, nil
}

// PersistContact inserts a contact message; a duplicate external id is reported as inserted=false.
func (s *DBService) PersistContact(ctx context.Context, input PersistInput) (Message, bool, error) {
	input.SenderType = SenderContact
	p, err := prepareInsert(input)
	if err != nil {
		return Message{}, false, err
	}
	var row messageRow
	err = row.scan(s.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, organization_id, sender_type, content, metadata, external_message_id, created_at)
		 VALUES ($1, $2, 'contact', $3, $4, $5, $6)
		 ON CONFLICT (organization_id, external_message_id)
		   WHERE sender_type = 'contact' AND external_message_id IS NOT NULL
		 DO NOTHING
		 RETURNING `+messageColumns,
		p.conversationID, p.organizationID, input.Content, p.metadata, db.Text(input.ExternalMessageID), p.createdAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, nil
		}
		if db.IsUniqueViolation(err) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("insert contact message: %w", err)
	}
	msg := row.toMessage()
	s.announce(ctx, msg)
	return msg, true, nil
}

// Persist inserts a bot, operator or system message.
func (s *DBService) Persist(ctx context.Context, input PersistInput) (Message, error) {
	if input.SenderType == "" || input.SenderType == SenderContact {
		return Message{}, fmt.Errorf("invalid sender type for outbound message: %q", input.SenderType)
	}
	p, err := prepareInsert(input)
	if err != nil {
		return Message{}, err
	}
	var row messageRow
	err = row.scan(s.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, organization_id, sender_type, content, metadata, external_message_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+messageColumns,
		p.conversationID, p.organizationID, string(input.SenderType), input.Content, p.metadata, db.Text(input.ExternalMessageID), p.createdAt,
	))
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg := row.toMessage()
	s.announce(ctx, msg)
	return msg, nil
}

// ContactMessageExists reports whether the organization already stored this contact message.
func (s *DBService) ContactMessageExists(ctx context.Context, organizationID, externalMessageID string) (bool, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return false, fmt.Errorf("invalid organization id: %w", err)
	}
	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM messages
		   WHERE organization_id = $1 AND external_message_id = $2 AND sender_type = 'contact'
		 )`, orgID, externalMessageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check contact message: %w", err)
	}
	return exists, nil
}

// ListRecent returns up to limit most recent messages in chronological order.
func (s *DBService) ListRecent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	convID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM (
		   SELECT `+messageColumns+` FROM messages
		   WHERE conversation_id = $1
		   ORDER BY created_at DESC, id DESC
		   LIMIT $2
		 ) recent ORDER BY created_at ASC, id ASC`, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var row messageRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, row.toMessage())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// CountBySender counts a conversation's messages from one sender type.
func (s *DBService) CountBySender(ctx context.Context, conversationID string, sender SenderType) (int, error) {
	convID, err := db.ParseUUID(conversationID)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id: %w", err)
	}
	var n int64
	if err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1 AND sender_type = $2`,
		convID, string(sender),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

func (s *DBService) announce(ctx context.Context, msg Message) {
	ev, err := event.New(event.TypeMessageCreated, msg.OrganizationID, msg.ConversationID, msg)
	if err != nil {
		s.logger.Warn("build message event failed", slog.Any("error", err))
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish message event failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func parseJSONMap(raw []byte) map[string]any {
	out := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
