package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

const thrownClassField = "thrownClass"

var (
	errorInfoLimit = model.TypedPreference{
		Key:         "error.info.limit",
		Name:        "Error rate info limit",
		Description: "Errors per minute at which the rule reports info.",
		Kind:        model.KindNumber,
		Default:     30.0,
		Bounds:      model.Positive(),
	}
	errorWarningLimit = model.TypedPreference{
		Key:         "error.warning.limit",
		Name:        "Error rate warning limit",
		Description: "Errors per minute at which the rule warns.",
		Kind:        model.KindNumber,
		Default:     60.0,
		Bounds:      model.Positive(),
	}
	errorExclude = model.TypedPreference{
		Key:         "error.exclude.regexp",
		Name:        "Excluded errors",
		Description: "Errors whose class matches this expression are not counted.",
		Kind:        model.KindString,
		Default:     `(com.sun.el.parser.ELParser\$LookaheadSuccess)`,
	}
	errorWindowSize = model.TypedPreference{
		Key:         "error.window.size",
		Name:        "Error window",
		Description: "Size of the sliding window used to find the peak error rate.",
		Kind:        model.KindDuration,
		Default:     time.Minute,
		Bounds:      model.AtLeastValue(1),
	}

	errorCount           = model.TypedResult{Key: "errorCount", Name: "Error count", Kind: model.KindNumber}
	excludedErrors       = model.TypedResult{Key: "excludedErrors", Name: "Excluded errors", Kind: model.KindNumber}
	errorRate            = model.TypedResult{Key: "errorRate", Name: "Peak errors per minute", Kind: model.KindNumber}
	errorWindowStart     = model.TypedResult{Key: "errorWindowStart", Name: "Peak window start", Kind: model.KindTime}
	mostCommonError      = model.TypedResult{Key: "mostCommonError", Name: "Most common error", Kind: model.KindString}
	mostCommonErrorCount = model.TypedResult{Key: "mostCommonErrorCount", Name: "Most common error count", Kind: model.KindNumber}
)

type Errors struct {
	rule.Base
}

func NewErrors() *Errors {
	return &Errors{Base: rule.Base{
		RuleID:       "Errors",
		RuleName:     "Thrown Errors",
		RuleTopic:    TopicExceptions,
		Requirements: []model.EventRequirement{model.Requires(TypeErrorThrow, model.AvailabilityAvailable)},
		Preferences:  []model.TypedPreference{errorInfoLimit, errorWarningLimit, errorExclude, errorWindowSize},
		Results: []model.TypedResult{
			errorCount, excludedErrors, errorRate, errorWindowStart, mostCommonError, mostCommonErrorCount,
		},
	}}
}

func (r *Errors) Evaluate(ctx context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	errs := src.Apply(recording.Type(TypeErrorThrow))
	excluded := 0
	if expr := strings.TrimSpace(rule.Get[string](prefs, errorExclude)); expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return rule.Misconfigured(r, &rule.ConfigError{RuleID: r.ID(), Key: errorExclude.Key, Value: expr, Err: err}), nil
		}
		matches := recording.AttrMatches(thrownClassField, re)
		excluded, _ = recording.Query[int](errs.Apply(matches), recording.Count())
		errs = errs.Apply(recording.Not(matches))
	}
	events, ok := recording.Query[[]recording.Event](errs, recording.Collect())
	if !ok {
		return rule.NewResult(r, prefs).
			Severity(model.SeverityOK).
			Summary("The program threw no errors.").
			Add(excludedErrors, float64(excluded)).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := rule.Get[time.Duration](prefs, errorWindowSize)
	worst, _ := maxRate(events, size, size/2)
	groups, _ := recording.Query[map[string]int](errs, recording.GroupCount(thrownClassField))
	common, commonCount := mostFrequent(groups)

	info := rule.Get[float64](prefs, errorInfoLimit)
	warn := rule.Get[float64](prefs, errorWarningLimit)
	if warn <= info {
		return rule.Misconfigured(r, &rule.ConfigError{
			RuleID: r.ID(),
			Key:    errorWarningLimit.Key,
			Value:  warn,
			Err:    fmt.Errorf("must be greater than %s (%v)", errorInfoLimit.Key, info),
		}), nil
	}
	explanation := "Errors are often thrown to signal conditions the program cannot recover from. " +
		"Throwing them at a high rate costs performance and may hide a real problem."
	if excluded > 0 {
		explanation += " {excludedErrors} errors matching {error.exclude.regexp} were not counted."
	}
	return rule.NewResult(r, prefs).
		Score(scoring.MapExp100Two(worst.PerMinute, info, warn)).
		Summary("The program threw up to {errorRate} errors per minute.").
		Explanation(explanation).
		Solution("Investigate the stack traces of the most common error, {mostCommonError}.").
		Add(errorCount, float64(len(events))).
		Add(excludedErrors, float64(excluded)).
		Add(errorRate, worst.PerMinute).
		Add(errorWindowStart, worst.Start).
		Add(mostCommonError, common).
		Add(mostCommonErrorCount, float64(commonCount)).
		Build()
}

// mostFrequent returns the key with the highest count, breaking ties by name.
func mostFrequent(groups map[string]int) (string, int) {
	var (
		best  string
		count int
	)
	for name, n := range groups {
		if n > count || (n == count && name < best) {
			best, count = name, n
		}
	}
	return best, count
}
