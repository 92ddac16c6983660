// Package skills ranks an organization's canned replies against inbound text and
// guards handover skills against false-positive matches.
package skills

import (
	"context"
	"time"
)

// Skill is one canned reply an organization configured.
type Skill struct {
	ID                    string    `json:"id"`
	OrganizationID        string    `json:"organization_id"`
	Title                 string    `json:"title"`
	TriggerText           string    `json:"trigger_text"`
	ResponseText          string    `json:"response_text"`
	RequiresHumanHandover bool      `json:"requires_human_handover"`
	Enabled               bool      `json:"enabled"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Match is a ranked skill for one inbound text.
type Match struct {
	SkillID               string
	Title                 string
	ResponseText          string
	TriggerText           string
	Similarity            float64
	RequiresHumanHandover bool
}

// Ranker returns matches at or above threshold, ordered by descending similarity.
type Ranker interface {
	Rank(ctx context.Context, organizationID, text string, threshold float64) ([]Match, error)
}

// Index stores skill vectors for a Ranker.
type Index interface {
	Upsert(ctx context.Context, skills []Skill) error
	DeleteOrganization(ctx context.Context, organizationID string) error
}
