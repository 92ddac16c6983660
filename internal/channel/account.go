package channel

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
)

// ErrAccountNotFound is returned for unknown or disabled channel accounts.
var ErrAccountNotFound = errors.New("channel account not found")

// Account binds a provider endpoint (a WhatsApp number or a Telegram bot) to an organization.
type Account struct {
	ID             string
	OrganizationID string
	Platform       Type
	DisplayName    string
	Credentials    map[string]any
	Enabled        bool
	UpdatedAt      time.Time
}

// Credential returns the trimmed string value of a credential key.
func (a Account) Credential(key string) string {
	if a.Credentials == nil {
		return ""
	}
	switch v := a.Credentials[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// AccountStore loads enabled channel accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (Account, error)
}

// DBAccountStore reads channel_accounts from Postgres.
type DBAccountStore struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewDBAccountStore creates an account store over the given pool.
func NewDBAccountStore(log *slog.Logger, conn db.DBTX) *DBAccountStore {
	if log == nil {
		log = slog.Default()
	}
	return &DBAccountStore{
		db:     conn,
		logger: log.With(slog.String("store", "channel_accounts")),
	}
}

type accountRow struct {
	ID             pgtype.UUID
	OrganizationID pgtype.UUID
	Platform       string
	DisplayName    string
	Credentials    []byte
	Enabled        bool
	UpdatedAt      pgtype.Timestamptz
}

const getAccountSQL = `
SELECT id, organization_id, platform, display_name, credentials, enabled, updated_at
FROM channel_accounts
WHERE id = $1 AND enabled = TRUE`

// GetAccount returns the enabled account with the given id.
func (s *DBAccountStore) GetAccount(ctx context.Context, id string) (Account, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	var row accountRow
	err = s.db.QueryRow(ctx, getAccountSQL, pgID).Scan(
		&row.ID, &row.OrganizationID, &row.Platform, &row.DisplayName, &row.Credentials, &row.Enabled, &row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("get channel account: %w", err)
	}
	return toAccount(row, s.logger), nil
}

func toAccount(row accountRow, log *slog.Logger) Account {
	creds := map[string]any{}
	if len(row.Credentials) > 0 {
		if err := json.Unmarshal(row.Credentials, &creds); err != nil {
			log.Warn("decode credentials failed", slog.String("account_id", db.UUIDToString(row.ID)), slog.Any("error", err))
		}
	}
	return Account{
		ID:             db.UUIDToString(row.ID),
		OrganizationID: db.UUIDToString(row.OrganizationID),
		Platform:       normalizeType(row.Platform),
		DisplayName:    row.DisplayName,
		Credentials:    creds,
		Enabled:        row.Enabled,
		UpdatedAt:      db.TimeFromPg(row.UpdatedAt),
	}
}

const findAccountSQL = `
SELECT id, organization_id, platform, display_name, credentials, enabled, updated_at
FROM channel_accounts
WHERE organization_id = $1 AND platform = $2 AND enabled = TRUE
ORDER BY created_at
LIMIT 1`

// FindByOrganization returns the oldest enabled account of the organization on platform.
func (s *DBAccountStore) FindByOrganization(ctx context.Context, organizationID string, platform Type) (Account, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	var row accountRow
	err = s.db.QueryRow(ctx, findAccountSQL, orgID, normalizeType(platform.String()).String()).Scan(
		&row.ID, &row.OrganizationID, &row.Platform, &row.DisplayName, &row.Credentials, &row.Enabled, &row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("find channel account: %w", err)
	}
	return toAccount(row, s.logger), nil
}
