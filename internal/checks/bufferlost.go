package checks

import (
	"context"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

var (
	bufferLostLimit = model.TypedPreference{
		Key:         "bufferlost.warning.limit",
		Name:        "Dropped buffer limit",
		Description: "Number of dropped buffers at which the score reaches 50.",
		Kind:        model.KindNumber,
		Default:     1.0,
		Bounds:      model.Positive(),
	}

	droppedCount = model.TypedResult{Key: "droppedCount", Name: "Dropped buffers", Kind: model.KindNumber}
	droppedBytes = model.TypedResult{Key: "droppedBytes", Name: "Dropped bytes", Kind: model.KindNumber}
	firstLoss    = model.TypedResult{Key: "firstLoss", Name: "First loss", Kind: model.KindTime}
)

type BufferLost struct {
	rule.Base
	score scoreFunc
}

func NewBufferLost() *BufferLost {
	return &BufferLost{score: scoring.Score, Base: rule.Base{
		RuleID:       "BufferLost",
		RuleName:     "Lost Recording Buffers",
		RuleTopic:    TopicRecording,
		Requirements: []model.EventRequirement{model.Requires(TypeDataLoss, model.AvailabilityEnabled)},
		Preferences:  []model.TypedPreference{bufferLostLimit},
		Results:      []model.TypedResult{droppedCount, droppedBytes, firstLoss},
	}}
}

func (r *BufferLost) Evaluate(ctx context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	losses := src.Apply(recording.Type(TypeDataLoss))
	count, _ := recording.Query[int](losses, recording.Count())
	if count == 0 {
		return rule.NewResult(r, prefs).
			Score(0).
			Summary("No recording buffers were lost.").
			Add(droppedCount, 0.0).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := rule.Get[float64](prefs, bufferLostLimit)
	bytes, _ := recording.Query[float64](losses, recording.Sum("amount"))
	first, _ := recording.Query[recording.Event](losses, recording.First())
	return rule.NewResult(r, prefs).
		Score(r.score(float64(count), limit)).
		Summary("The recording lost {droppedCount} buffers.").
		Explanation("Events were dropped because the recorder could not flush its buffers in time, starting at {firstLoss}. "+
			"Analysis of the affected period may be incomplete.").
		Solution("Increase the global buffer size or the number of buffers, or record fewer events.").
		Add(droppedCount, float64(count)).
		Add(droppedBytes, bytes).
		Add(firstLoss, first.Start).
		Build()
}
