package rule

import (
	"context"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
)

// LegacyCheck is the older "score plus summary" check shape. A negative score means
// the check does not apply to the recording.
type LegacyCheck func(src recording.Source) (score float64, summary string, err error)

// LegacyAdapter exposes a LegacyCheck through the Rule contract.
type LegacyAdapter struct {
	Base
	Check LegacyCheck
}

func Legacy(base Base, check LegacyCheck) *LegacyAdapter {
	return &LegacyAdapter{Base: base, Check: check}
}

func (a *LegacyAdapter) Evaluate(ctx context.Context, src recording.Source, prefs Preferences, _ PriorResults) (*model.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	score, summary, err := a.Check(src)
	if err != nil {
		return nil, err
	}
	if score < 0 {
		if summary == "" {
			return TooFewEvents(a), nil
		}
		return NotApplicable(a, summary), nil
	}
	if score >= 100 {
		score = 99.99
	}
	return NewResult(a, prefs).Score(score).Summary(summary).Build()
}
