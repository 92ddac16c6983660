// Package inbox lists an organization's conversations the way the operator inbox shows them.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/db"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListFilter narrows the inbox. Zero values do not filter.
type ListFilter struct {
	NeedsAttention bool
	UnreadOnly     bool
	Agent          conversation.Agent
	AssigneeID     string
	Status         string
	Limit          int
	Offset         int
}

// Counts are the inbox badges.
type Counts struct {
	Open           int64 `json:"open"`
	Unread         int64 `json:"unread"`
	NeedsAttention int64 `json:"needs_attention"`
	WithOperator   int64 `json:"with_operator"`
}

// Service reads the inbox from Postgres.
type Service struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewService creates an inbox service.
func NewService(log *slog.Logger, conn db.DBTX) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     conn,
		logger: log.With(slog.String("service", "inbox")),
	}
}

// List returns conversations ordered by last activity, newest first.
func (s *Service) List(ctx context.Context, organizationID string, f ListFilter) ([]conversation.Conversation, error) {
	sql, args, err := buildListQuery(organizationID, f)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	items := []conversation.Conversation{}
	for rows.Next() {
		conv, err := conversation.ScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Count returns the open-conversation badges of an organization.
func (s *Service) Count(ctx context.Context, organizationID string) (Counts, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return Counts{}, fmt.Errorf("invalid organization id: %w", err)
	}
	var c Counts
	err = s.db.QueryRow(ctx, `SELECT
		  count(*),
		  count(*) FILTER (WHERE unread_count > 0),
		  count(*) FILTER (WHERE human_attention_required),
		  count(*) FILTER (WHERE active_agent = 'operator')
		FROM conversations
		WHERE organization_id = $1 AND status = 'open'`, orgID).
		Scan(&c.Open, &c.Unread, &c.NeedsAttention, &c.WithOperator)
	if err != nil {
		return Counts{}, fmt.Errorf("count inbox: %w", err)
	}
	return c, nil
}

func buildListQuery(organizationID string, f ListFilter) (string, []any, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return "", nil, fmt.Errorf("invalid organization id: %w", err)
	}
	args := []any{orgID}
	where := []string{"organization_id = $1"}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.NeedsAttention {
		where = append(where, "human_attention_required")
	}
	if f.UnreadOnly {
		where = append(where, "unread_count > 0")
	}
	if f.Agent != "" {
		where = append(where, "active_agent = "+arg(string(f.Agent)))
	}
	if id := strings.TrimSpace(f.AssigneeID); id != "" {
		assignee, err := db.ParseUUID(id)
		if err != nil {
			return "", nil, fmt.Errorf("invalid assignee id: %w", err)
		}
		where = append(where, "assignee_id = "+arg(assignee))
	}
	if status := strings.TrimSpace(f.Status); status != "" {
		where = append(where, "status = "+arg(status))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	offset := max(f.Offset, 0)

	sql := `SELECT ` + conversation.Columns + ` FROM conversations WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY last_message_at DESC, id DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)
	return sql, args, nil
}
