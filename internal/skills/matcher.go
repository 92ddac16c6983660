package skills

import (
	"context"
	"log/slog"
)

// Selection is the outcome of Matcher.Select. Candidate is nil when nothing ranked.
type Selection struct {
	Candidate *Match
	Verdict   Verdict
}

// Accepted returns the candidate when the guard let it through.
func (s Selection) Accepted() (Match, bool) {
	if s.Candidate == nil || !s.Verdict.Accepted {
		return Match{}, false
	}
	return *s.Candidate, true
}

// Matcher picks the best ranked skill and runs the handover guard on it.
type Matcher struct {
	ranker Ranker
	logger *slog.Logger
}

// NewMatcher creates a matcher over ranker.
func NewMatcher(log *slog.Logger, ranker Ranker) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{
		ranker: ranker,
		logger: log.With(slog.String("service", "skills")),
	}
}

// Select ranks text and guards the best match. Ranking errors are logged and read as no match.
func (m *Matcher) Select(ctx context.Context, organizationID, text string, threshold float64) Selection {
	if m == nil || m.ranker == nil {
		return Selection{}
	}
	matches, err := m.ranker.Rank(ctx, organizationID, text, threshold)
	if err != nil {
		m.logger.Warn("skill ranking failed",
			slog.String("organization_id", organizationID),
			slog.Any("error", err))
		return Selection{}
	}
	best, ok := bestMatch(matches, threshold)
	if !ok {
		return Selection{}
	}
	verdict := Check(text, best)
	if !verdict.Accepted {
		m.logger.Info("handover skill rejected by guard",
			slog.String("organization_id", organizationID),
			slog.String("skill_id", best.SkillID),
			slog.Float64("similarity", best.Similarity),
			slog.Float64("overlap", verdict.Overlap))
	}
	return Selection{Candidate: &best, Verdict: verdict}
}

func bestMatch(matches []Match, threshold float64) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		if !found || m.Similarity > best.Similarity {
			best = m
			found = true
		}
	}
	return best, found
}
