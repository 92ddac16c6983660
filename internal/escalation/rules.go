package escalation

import (
	"context"

	"github.com/memohai/switchboard/internal/skills"
)

// Reasons set by RulePolicy.
const (
	ReasonHandoverSkill = "handover_skill"
	ReasonIntentPrefix  = "intent:"
)

// RulePolicy hands over on an accepted handover skill. Without one it flags
// explicit handover, complaint, urgency, refund, cancellation or privacy intents.
type RulePolicy struct{}

// Decide implements Decider.
func (RulePolicy) Decide(_ context.Context, in Input) (Decision, error) {
	if in.Match != nil && in.GuardAccepted && in.Match.RequiresHumanHandover {
		return Decision{
			ShouldEscalate: true,
			Reason:         ReasonHandoverSkill,
			Action:         ActionSwitchToOperator,
			NoticeMode:     NoticeMessage,
			NoticeMessage:  in.Match.ResponseText,
		}, nil
	}
	switch intent := skills.DetectIntent(in.Text); intent {
	case skills.IntentHandover, skills.IntentComplaint, skills.IntentUrgency, skills.IntentRefund,
		skills.IntentCancellation, skills.IntentPrivacy:
		return Decision{
			ShouldEscalate: true,
			Reason:         ReasonIntentPrefix + string(intent),
			Action:         ActionNotifyOnly,
			NoticeMode:     NoticeNone,
		}, nil
	}
	return None(), nil
}
