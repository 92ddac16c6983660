// Package settings reads per-organization automation settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/memohai/switchboard/internal/db"
)

// Service loads organization settings, falling back to defaults when no row exists.
type Service struct {
	db                         db.DBTX
	logger                     *slog.Logger
	defaultSimilarityThreshold float64
}

// NewService creates a settings service; defaultThreshold applies when a row stores none.
func NewService(log *slog.Logger, conn db.DBTX, defaultThreshold float64) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:                         conn,
		logger:                     log.With(slog.String("service", "settings")),
		defaultSimilarityThreshold: defaultThreshold,
	}
}

// Defaults returns the settings used for organizations without a row.
func (s *Service) Defaults(organizationID string) Settings {
	return normalize(Settings{OrganizationID: organizationID}, s.defaultSimilarityThreshold)
}

// Get returns the organization's settings.
func (s *Service) Get(ctx context.Context, organizationID string) (Settings, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return Settings{}, err
	}
	var (
		row       Settings
		threshold float32
		minMsgs   int32
	)
	err = s.db.QueryRow(ctx,
		`SELECT bot_mode, similarity_threshold, language, required_intake_fields, fallback_topics,
		        lead_extraction_enabled, lead_extraction_min_messages
		 FROM organization_settings WHERE organization_id = $1`, orgID,
	).Scan(&row.BotMode, &threshold, &row.Language, &row.RequiredIntakeFields, &row.FallbackTopics,
		&row.LeadExtractionEnabled, &minMsgs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.Defaults(organizationID), nil
		}
		return Settings{}, fmt.Errorf("get organization settings: %w", err)
	}
	row.OrganizationID = organizationID
	row.SimilarityThreshold = float64(threshold)
	row.LeadExtractionMinMessages = int(minMsgs)
	return normalize(row, s.defaultSimilarityThreshold), nil
}

func normalize(in Settings, defaultThreshold float64) Settings {
	out := in
	switch mode := strings.ToLower(strings.TrimSpace(in.BotMode)); mode {
	case BotModeAuto, BotModeShadow, BotModeOff:
		out.BotMode = mode
	default:
		out.BotMode = DefaultBotMode
	}
	if out.SimilarityThreshold <= 0 || out.SimilarityThreshold > 1 {
		out.SimilarityThreshold = defaultThreshold
	}
	out.Language = strings.ToLower(strings.TrimSpace(out.Language))
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	if out.LeadExtractionMinMessages <= 0 {
		out.LeadExtractionMinMessages = DefaultLeadExtractionMinMessages
	}
	out.RequiredIntakeFields = compact(out.RequiredIntakeFields)
	out.FallbackTopics = compact(out.FallbackTopics)
	return out
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if v := strings.TrimSpace(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}
