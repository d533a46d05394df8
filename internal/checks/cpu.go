package checks

import (
	"context"
	"time"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

const (
	jvmUserField   = "jvmUser"
	jvmSystemField = "jvmSystem"
)

var (
	jvmCPUInfoLimit = model.TypedPreference{
		Key:         "jvm.cpu.info.limit",
		Name:        "JVM CPU info limit",
		Description: "Average JVM CPU usage at which the rule reports info.",
		Kind:        model.KindPercent,
		Default:     0.8,
		Bounds:      model.Between(0, 1),
	}
	minCPUPeriod = model.TypedPreference{
		Key:         "minimum.cpu.period",
		Name:        "Minimum sampled period",
		Description: "CPU samples must cover at least this long for the rule to apply.",
		Kind:        model.KindDuration,
		Default:     10 * time.Second,
		Bounds:      model.AtLeastValue(0),
	}

	averageJVMCPU = model.TypedResult{Key: "averageJvmCpu", Name: "Average JVM CPU", Kind: model.KindPercent}
	peakJVMCPU    = model.TypedResult{Key: "peakJvmCpu", Name: "Peak JVM CPU", Kind: model.KindPercent}
	cpuSamples    = model.TypedResult{Key: "cpuSamples", Name: "CPU samples", Kind: model.KindNumber}
)

type HighJvmCpu struct {
	rule.Base
}

func NewHighJvmCpu() *HighJvmCpu {
	return &HighJvmCpu{Base: rule.Base{
		RuleID:       "HighJvmCpu",
		RuleName:     "High JVM CPU Load",
		RuleTopic:    TopicCPU,
		Requirements: []model.EventRequirement{model.Requires(TypeCPULoad, model.AvailabilityAvailable)},
		Preferences:  []model.TypedPreference{jvmCPUInfoLimit, minCPUPeriod},
		Results:      []model.TypedResult{averageJVMCPU, peakJVMCPU, cpuSamples},
	}}
}

func (r *HighJvmCpu) Evaluate(_ context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	samples, ok := recording.Query[[]recording.Event](src.Apply(recording.Type(TypeCPULoad)), recording.Collect())
	if !ok {
		return rule.TooFewEvents(r), nil
	}
	first, last := samples[0].Start, samples[len(samples)-1].Start
	if last.Sub(first) < rule.Get[time.Duration](prefs, minCPUPeriod) {
		return rule.NotApplicable(r, "The CPU load was sampled over too short a period to evaluate this rule."), nil
	}

	var total, peak float64
	n := 0
	for _, ev := range samples {
		user, okUser := ev.Number(jvmUserField)
		system, okSystem := ev.Number(jvmSystemField)
		if !okUser && !okSystem {
			continue
		}
		load := user + system
		total += load
		peak = max(peak, load)
		n++
	}
	if n == 0 {
		return rule.MissingAttribute(r, TypeCPULoad, jvmUserField), nil
	}
	avg := total / float64(n)

	score := scoring.MapExp74(avg, rule.Get[float64](prefs, jvmCPUInfoLimit))
	b := rule.NewResult(r, prefs).
		Score(score).
		Add(averageJVMCPU, avg).
		Add(peakJVMCPU, peak).
		Add(cpuSamples, float64(n))
	if model.SeverityFor(score) == model.SeverityOK {
		return b.Summary("The JVM used {averageJvmCpu} CPU on average.").Build()
	}
	return b.
		Summary("The JVM used {averageJvmCpu} CPU on average, peaking at {peakJvmCpu}.").
		Explanation("Sustained high CPU usage by the JVM leaves little headroom for load spikes.").
		Solution("Profile the hottest methods, or provision more CPU.").
		Build()
}
