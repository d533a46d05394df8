// Package gate decides from event availability alone whether a rule can run.
package gate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
)

type Gate struct {
	src  recording.Source
	memo *sync.Map
}

// New returns a gate for src. Availability lookups are memoized on the recording
// itself when it supports it, otherwise for the life of the gate.
func New(src recording.Source) *Gate {
	memo := &sync.Map{}
	if m, ok := src.(recording.Memoizer); ok && m.Memo() != nil {
		memo = m.Memo()
	}
	return &Gate{src: src, memo: memo}
}

type memoKey string

func (g *Gate) Availability(typeID string) model.Availability {
	key := memoKey(typeID)
	if v, ok := g.memo.Load(key); ok {
		return v.(model.Availability)
	}
	v, _ := g.memo.LoadOrStore(key, recording.AvailabilityOf(g.src, typeID))
	return v.(model.Availability)
}

// Check returns the worst actual availability among r's requirements and, when any
// requirement is unmet, the result that replaces evaluation.
func (g *Gate) Check(r rule.Rule) (model.Availability, *model.Result) {
	reqs := r.RequiredEvents()
	if len(reqs) == 0 {
		return model.AvailabilityAvailable, nil
	}
	worst := model.AvailabilityAvailable
	unmet := map[model.Availability][]string{}
	failing := model.AvailabilityAvailable
	satisfied := true
	for _, req := range reqs {
		actual := g.Availability(req.TypeID)
		worst = model.MinAvailability(worst, actual)
		if actual.Satisfies(req.Level) {
			continue
		}
		satisfied = false
		unmet[actual] = append(unmet[actual], req.TypeID)
		failing = model.MinAvailability(failing, actual)
	}
	if satisfied {
		return worst, nil
	}
	return worst, gatedResult(r, failing, unmet[failing])
}

func Check(src recording.Source, r rule.Rule) (model.Availability, *model.Result) {
	return New(src).Check(r)
}

func gatedResult(r rule.Rule, level model.Availability, types []string) *model.Result {
	sort.Strings(types)
	list := strings.Join(types, ", ")
	severity := model.SeverityNA
	var summary, explanation string
	switch level {
	case model.AvailabilityDisabled:
		severity = model.SeverityInfo
		summary = fmt.Sprintf("Required event types were disabled during recording: %s.", list)
		explanation = "The rule needs these event types. Enable them in the recording settings to get a full analysis."
	case model.AvailabilityEnabled:
		summary = fmt.Sprintf("No events of the required types were recorded: %s.", list)
		explanation = "The event types were enabled, but the recording holds no events of these types."
	default:
		summary = fmt.Sprintf("The recording does not contain the required event types: %s.", list)
	}
	return model.NewResult(model.ResultFields{
		RuleID:      r.ID(),
		RuleName:    r.Name(),
		Topic:       r.Topic(),
		Severity:    severity,
		Score:       model.NoScore,
		Summary:     summary,
		Explanation: explanation,
	})
}
