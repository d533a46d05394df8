// Package rule defines the diagnostic rule contract, the result builder and the
// immutable rule catalog.
package rule

import (
	"context"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
)

// Rule inspects a recording and produces one Result. Implementations must be
// stateless and safe for concurrent use. A rule that cannot proceed returns an NA or
// Ignore result; a returned error is treated as a fault.
type Rule interface {
	ID() string
	Name() string
	Topic() string
	RequiredEvents() []model.EventRequirement
	ConfigurationAttributes() []model.TypedPreference
	ResultAttributes() []model.TypedResult
	Dependencies() []Dependency
	Evaluate(ctx context.Context, src recording.Source, prefs Preferences, prior PriorResults) (*model.Result, error)
}

// Dependency makes a rule wait for another rule. When MinSeverity is set the dependent
// only runs if the dependency's severity is at least MinSeverity.
type Dependency struct {
	RuleID      string         `json:"rule_id" yaml:"rule"`
	MinSeverity model.Severity `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
}

// PriorResults exposes the results of a rule's declared dependencies.
type PriorResults interface {
	Get(ruleID string) (*model.Result, bool)
}

type PriorMap map[string]*model.Result

func (p PriorMap) Get(ruleID string) (*model.Result, bool) {
	res, ok := p[ruleID]
	return res, ok && res != nil
}

// Base carries rule metadata and is embedded by concrete rules.
type Base struct {
	RuleID       string
	RuleName     string
	RuleTopic    string
	Requirements []model.EventRequirement
	Preferences  []model.TypedPreference
	Results      []model.TypedResult
	DependsOn    []Dependency
}

func (b *Base) ID() string    { return b.RuleID }
func (b *Base) Name() string  { return b.RuleName }
func (b *Base) Topic() string { return b.RuleTopic }

func (b *Base) RequiredEvents() []model.EventRequirement {
	return append([]model.EventRequirement(nil), b.Requirements...)
}

func (b *Base) ConfigurationAttributes() []model.TypedPreference {
	return append([]model.TypedPreference(nil), b.Preferences...)
}

func (b *Base) ResultAttributes() []model.TypedResult {
	return append([]model.TypedResult(nil), b.Results...)
}

func (b *Base) Dependencies() []Dependency {
	return append([]Dependency(nil), b.DependsOn...)
}

type EvaluateFunc func(ctx context.Context, src recording.Source, prefs Preferences, prior PriorResults) (*model.Result, error)

// Func is a rule whose evaluation is a closure.
type Func struct {
	Base
	Fn EvaluateFunc
}

func NewFunc(base Base, fn EvaluateFunc) *Func {
	return &Func{Base: base, Fn: fn}
}

func (f *Func) Evaluate(ctx context.Context, src recording.Source, prefs Preferences, prior PriorResults) (*model.Result, error) {
	return f.Fn(ctx, src, prefs, prior)
}
