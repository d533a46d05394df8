package declarative

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/cel-go/cel"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

const costLimit = 1_000_000

var metricValue = model.TypedResult{Key: "value", Name: "Metric", Description: "Value of the metric expression", Kind: model.KindNumber}

// Rule evaluates a compiled Definition. It is safe for concurrent use.
type Rule struct {
	rule.Base
	def    Definition
	names  []string
	limit  model.TypedPreference
	metric cel.Program
	when   cel.Program
}

// Compile type-checks the expressions of every definition and returns the rules.
func Compile(defs ...Definition) ([]rule.Rule, error) {
	out := make([]rule.Rule, 0, len(defs))
	for _, d := range defs {
		r, err := compile(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func compile(d Definition) (*Rule, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(d.Inputs))
	for name := range d.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []cel.EnvOption{
		cel.Variable(VarLimit, cel.DoubleType),
		cel.Variable(VarDuration, cel.DoubleType),
	}
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("rule %s: create CEL environment: %w", d.ID, err)
	}
	metric, err := program(env, d.Metric, cel.DoubleType)
	if err != nil {
		return nil, fmt.Errorf("rule %s: metric: %w", d.ID, err)
	}
	var when cel.Program
	if d.When != "" {
		if when, err = program(env, d.When, cel.BoolType); err != nil {
			return nil, fmt.Errorf("rule %s: when: %w", d.ID, err)
		}
	}

	limit := model.TypedPreference{
		Key:         d.limitKey(),
		Name:        "Limit",
		Description: "Metric value at which the score reaches 50.",
		Kind:        model.KindNumber,
		Default:     d.Limit,
		Bounds:      model.Positive(),
	}
	results := []model.TypedResult{metricValue}
	for _, name := range names {
		results = append(results, model.TypedResult{Key: name, Name: name, Kind: model.KindNumber})
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return &Rule{
		Base: rule.Base{
			RuleID:       d.ID,
			RuleName:     name,
			RuleTopic:    d.Topic,
			Requirements: requirements(d),
			Preferences:  []model.TypedPreference{limit},
			Results:      results,
			DependsOn:    d.DependsOn,
		},
		def:    d,
		names:  names,
		limit:  limit,
		metric: metric,
		when:   when,
	}, nil
}

func program(env *cel.Env, expr string, want *cel.Type) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(want) {
		return nil, fmt.Errorf("expression must return %s, got %s", want, ast.OutputType())
	}
	prg, err := env.Program(ast, cel.CostLimit(costLimit), cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prg, nil
}

// requirements defaults to every input type being available.
func requirements(d Definition) []model.EventRequirement {
	if len(d.Requires) > 0 {
		out := make([]model.EventRequirement, len(d.Requires))
		for i, req := range d.Requires {
			level := req.Level
			if level == model.AvailabilityUnknown {
				level = model.AvailabilityAvailable
			}
			out[i] = model.Requires(req.Type, level)
		}
		return out
	}
	seen := map[string]bool{}
	var out []model.EventRequirement
	for _, in := range d.Inputs {
		if !seen[in.Type] {
			seen[in.Type] = true
			out = append(out, model.Requires(in.Type, model.AvailabilityAvailable))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeID < out[j].TypeID })
	return out
}

func (r *Rule) Definition() Definition { return r.def }

func (r *Rule) Evaluate(ctx context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	vars := make(map[string]any, len(r.names)+2)
	for _, name := range r.names {
		vars[name] = aggregate(src, r.def.Inputs[name])
	}
	span, _ := recording.Query[recording.Span](src, recording.TimeSpan())
	vars[VarDuration] = span.Duration().Seconds()
	limit := rule.Get[float64](prefs, r.limit)
	vars[VarLimit] = limit

	if r.when != nil {
		out, _, err := r.when.ContextEval(ctx, vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate when: %w", err)
		}
		if ok, _ := out.Value().(bool); !ok {
			return rule.NotApplicable(r, "The recording does not meet the conditions of this rule."), nil
		}
	}
	out, _, err := r.metric.ContextEval(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluate metric: %w", err)
	}
	value, ok := out.Value().(float64)
	if !ok || math.IsNaN(value) {
		return nil, fmt.Errorf("metric evaluated to %v", out.Value())
	}

	b := rule.NewResult(r, prefs).
		Score(scoring.Score(value, limit)).
		Summary(r.def.Summary).
		Explanation(r.def.Explanation).
		Solution(r.def.Solution).
		Add(metricValue, value)
	for _, name := range r.names {
		b.Add(model.TypedResult{Key: name}, vars[name])
	}
	return b.Build()
}

func aggregate(src recording.Source, in Input) float64 {
	events := src.Apply(recording.Type(in.Type))
	var agg recording.Aggregator
	switch in.Aggregate {
	case AggCount:
		n, _ := recording.Query[int](events, recording.Count())
		return float64(n)
	case AggTotalDuration:
		d, _ := recording.Query[time.Duration](events, recording.TotalDuration())
		return d.Seconds()
	case AggSpan:
		s, _ := recording.Query[recording.Span](events, recording.TimeSpan())
		return s.Duration().Seconds()
	case AggSum:
		agg = recording.Sum(in.Field)
	case AggMax:
		agg = recording.Max(in.Field)
	case AggMin:
		agg = recording.Min(in.Field)
	case AggAvg:
		agg = recording.Avg(in.Field)
	}
	v, _ := recording.Query[float64](events, agg)
	if in.Field == "duration" {
		v = time.Duration(v).Seconds()
	}
	return v
}
