package service

import (
	"flightcheck/internal/model"
	"flightcheck/internal/rule"
)

// RuleInfo describes a catalog entry together with its effective preferences.
type RuleInfo struct {
	ID          string                   `json:"id" yaml:"id"`
	Name        string                   `json:"name" yaml:"name"`
	Topic       string                   `json:"topic" yaml:"topic"`
	Requires    []model.EventRequirement `json:"requires" yaml:"requires"`
	DependsOn   []rule.Dependency        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Preferences []PreferenceInfo         `json:"preferences" yaml:"preferences"`
	Results     []model.TypedResult      `json:"results" yaml:"results"`
	Error       string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

type PreferenceInfo struct {
	model.TypedPreference `yaml:",inline"`
	Value                 any `json:"value" yaml:"value"`
}

// DescribeRules lists the catalog in evaluation order. A preference that fails to
// resolve is reported on the rule and shown with its default.
func DescribeRules(catalog *rule.Catalog, prefs rule.Preferences) []RuleInfo {
	if prefs == nil {
		prefs = rule.DefaultPreferences
	}
	out := make([]RuleInfo, 0, catalog.Len())
	for _, r := range catalog.Rules() {
		declared := r.ConfigurationAttributes()
		info := RuleInfo{
			ID:          r.ID(),
			Name:        r.Name(),
			Topic:       r.Topic(),
			Requires:    r.RequiredEvents(),
			DependsOn:   r.Dependencies(),
			Preferences: make([]PreferenceInfo, 0, len(declared)),
			Results:     r.ResultAttributes(),
		}
		resolved, err := rule.ResolveAll(prefs, r.ID(), declared)
		if err != nil {
			info.Error = err.Error()
		}
		for _, p := range declared {
			v := p.Default
			if err == nil {
				v = resolved.Value(p)
			}
			info.Preferences = append(info.Preferences, PreferenceInfo{TypedPreference: p, Value: v})
		}
		out = append(out, info)
	}
	return out
}
