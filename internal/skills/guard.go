package skills

// Guard thresholds for handover skills.
const (
	HighConfidenceSimilarity = 0.9
	MinTokenOverlap          = 0.2
)

// GuardReason records why a candidate was accepted or rejected.
type GuardReason string

const (
	GuardNoHandover     GuardReason = "no_handover"
	GuardHighSimilarity GuardReason = "high_similarity"
	GuardExplicitIntent GuardReason = "explicit_intent"
	GuardTokenOverlap   GuardReason = "token_overlap"
	GuardRejected       GuardReason = "rejected"
)

// Verdict is the outcome of Check.
type Verdict struct {
	Accepted bool
	Reason   GuardReason
	Intent   Intent
	Overlap  float64
}

// Check accepts a candidate that does not hand over. A handover candidate is
// accepted on very high similarity, an explicit intent in text, or enough token
// overlap between text and the skill's title and trigger, tried in that order.
func Check(text string, candidate Match) Verdict {
	if !candidate.RequiresHumanHandover {
		return Verdict{Accepted: true, Reason: GuardNoHandover}
	}
	if candidate.Similarity >= HighConfidenceSimilarity {
		return Verdict{Accepted: true, Reason: GuardHighSimilarity}
	}
	if intent := DetectIntent(text); intent != IntentNone {
		return Verdict{Accepted: true, Reason: GuardExplicitIntent, Intent: intent}
	}
	overlap := Jaccard(Tokens(text), Tokens(candidate.Title+" "+candidate.TriggerText))
	if overlap >= MinTokenOverlap {
		return Verdict{Accepted: true, Reason: GuardTokenOverlap, Overlap: overlap}
	}
	return Verdict{Reason: GuardRejected, Overlap: overlap}
}
