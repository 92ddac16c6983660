package skills

import (
	"context"
	"errors"
	"testing"
)

type fakeRanker struct {
	matches   []Match
	err       error
	threshold float64
}

func (f *fakeRanker) Rank(_ context.Context, _, _ string, threshold float64) ([]Match, error) {
	f.threshold = threshold
	return f.matches, f.err
}

func TestSelectPicksBestAboveThreshold(t *testing.T) {
	r := &fakeRanker{matches: []Match{
		{SkillID: "low", Similarity: 0.55},
		{SkillID: "mid", Similarity: 0.7},
		{SkillID: "top", Similarity: 0.82},
	}}
	m := NewMatcher(nil, r)
	sel := m.Select(context.Background(), "org-1", "fiyat listesi", 0.6)
	got, ok := sel.Accepted()
	if !ok || got.SkillID != "top" {
		t.Fatalf("expected top accepted, got %+v", sel)
	}
	if r.threshold != 0.6 {
		t.Fatalf("threshold not forwarded: %v", r.threshold)
	}
}

func TestSelectGuardRejectionKeepsCandidate(t *testing.T) {
	r := &fakeRanker{matches: []Match{handoverSkill(0.65)}}
	sel := NewMatcher(nil, r).Select(context.Background(), "org-1", "hizmetleriniz hakkında bilgi almak istiyorum", 0.6)
	if _, ok := sel.Accepted(); ok {
		t.Fatal("expected guard rejection")
	}
	if sel.Candidate == nil || sel.Candidate.SkillID != "skill-handover" {
		t.Fatalf("expected candidate recorded, got %+v", sel.Candidate)
	}
}

func TestSelectRankErrorIsNoMatch(t *testing.T) {
	sel := NewMatcher(nil, &fakeRanker{err: errors.New("qdrant down")}).Select(context.Background(), "org-1", "x", 0.6)
	if sel.Candidate != nil {
		t.Fatalf("expected no candidate, got %+v", sel)
	}
}

func TestSelectNothingAboveThreshold(t *testing.T) {
	sel := NewMatcher(nil, &fakeRanker{matches: []Match{{SkillID: "a", Similarity: 0.3}}}).Select(context.Background(), "org-1", "x", 0.6)
	if sel.Candidate != nil {
		t.Fatalf("expected no candidate, got %+v", sel)
	}
}
