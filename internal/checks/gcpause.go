package checks

import (
	"context"
	"time"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

var (
	gcPauseInfoLimit = model.TypedPreference{
		Key:         "gc.pause.info.limit",
		Name:        "Pause info limit",
		Description: "Longest pause at which the rule reports info.",
		Kind:        model.KindDuration,
		Default:     time.Second,
		Bounds:      model.Positive(),
	}
	gcPauseWarningLimit = model.TypedPreference{
		Key:         "gc.pause.warning.limit",
		Name:        "Pause warning limit",
		Description: "Longest pause at which the rule warns.",
		Kind:        model.KindDuration,
		Default:     5 * time.Second,
		Bounds:      model.Positive(),
	}

	longestPause = model.TypedResult{Key: "longestPause", Name: "Longest pause", Kind: model.KindDuration}
	totalPause   = model.TypedResult{Key: "totalPause", Name: "Total pause time", Kind: model.KindDuration}
	pauseCount   = model.TypedResult{Key: "pauseCount", Name: "Pauses", Kind: model.KindNumber}
	pauseRatio   = model.TypedResult{Key: "pauseRatio", Name: "Time paused", Kind: model.KindPercent}
)

type GcPause struct {
	rule.Base
}

func NewGcPause() *GcPause {
	return &GcPause{Base: rule.Base{
		RuleID:       "GcPause",
		RuleName:     "Garbage Collection Pauses",
		RuleTopic:    TopicGC,
		Requirements: []model.EventRequirement{model.Requires(TypeGCPhasePause, model.AvailabilityAvailable)},
		Preferences:  []model.TypedPreference{gcPauseInfoLimit, gcPauseWarningLimit},
		Results:      []model.TypedResult{longestPause, totalPause, pauseCount, pauseRatio},
	}}
}

func (r *GcPause) Evaluate(_ context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	pauses := src.Apply(recording.Type(TypeGCPhasePause))
	longest, ok := recording.Query[recording.Event](pauses, recording.Longest())
	if !ok {
		return rule.TooFewEvents(r), nil
	}
	count, _ := recording.Query[int](pauses, recording.Count())
	total, _ := recording.Query[time.Duration](pauses, recording.TotalDuration())
	ratio := 0.0
	if span, ok := recording.Query[recording.Span](src, recording.TimeSpan()); ok && span.Duration() > 0 {
		ratio = min(total.Seconds()/span.Duration().Seconds(), 1)
	}

	info := rule.Get[time.Duration](prefs, gcPauseInfoLimit)
	warn := rule.Get[time.Duration](prefs, gcPauseWarningLimit)
	score := scoring.MapExp100Two(longest.Duration().Seconds(), info.Seconds(), warn.Seconds())
	b := rule.NewResult(r, prefs).
		Score(score).
		Add(longestPause, longest.Duration()).
		Add(totalPause, total).
		Add(pauseCount, float64(count)).
		Add(pauseRatio, ratio)
	if model.SeverityFor(score) == model.SeverityOK {
		return b.Summary("The longest garbage collection pause was {longestPause}.").Build()
	}
	return b.
		Summary("The program was paused for up to {longestPause} by garbage collection.").
		Explanation("There were {pauseCount} pauses totalling {totalPause}, {pauseRatio} of the recording. " +
			"Long pauses stall every application thread.").
		Solution("Reduce the live set or allocation rate, or use a collector with shorter pauses.").
		Build()
}
