package rule

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"flightcheck/internal/model"
)

// ResultBuilder assembles a Result for one rule. Build validates the result against
// the rule's declarations.
type ResultBuilder struct {
	rule        Rule
	prefs       Preferences
	severity    model.Severity
	score       float64
	hasScore    bool
	summary     string
	explanation string
	solution    string
	values      map[string]any
	results     map[string]model.TypedResult
	problems    []string
}

func NewResult(r Rule, prefs Preferences) *ResultBuilder {
	if prefs == nil {
		prefs = DefaultPreferences
	}
	results := map[string]model.TypedResult{model.ScoreResult.Key: model.ScoreResult}
	for _, tr := range r.ResultAttributes() {
		results[tr.Key] = tr
	}
	return &ResultBuilder{
		rule:    r,
		prefs:   prefs,
		values:  map[string]any{},
		results: results,
	}
}

func (b *ResultBuilder) Severity(s model.Severity) *ResultBuilder {
	b.severity = s
	return b
}

func (b *ResultBuilder) Score(v float64) *ResultBuilder {
	b.score = v
	b.hasScore = true
	return b
}

func (b *ResultBuilder) Summary(s string) *ResultBuilder {
	b.summary = s
	return b
}

func (b *ResultBuilder) Explanation(s string) *ResultBuilder {
	b.explanation = s
	return b
}

func (b *ResultBuilder) Solution(s string) *ResultBuilder {
	b.solution = s
	return b
}

func (b *ResultBuilder) Add(tr model.TypedResult, v any) *ResultBuilder {
	if _, ok := b.results[tr.Key]; !ok {
		b.problems = append(b.problems, fmt.Sprintf("undeclared result %q", tr.Key))
	}
	b.values[tr.Key] = v
	return b
}

func (b *ResultBuilder) Build() (*model.Result, error) {
	if len(b.problems) > 0 {
		return nil, b.defect(b.problems[0])
	}
	severity := b.severity
	if severity == "" {
		if !b.hasScore {
			return nil, b.defect("neither severity nor score set")
		}
		severity = model.SeverityFor(b.score)
	}
	if !severity.Valid() {
		return nil, b.defect(fmt.Sprintf("invalid severity %q", string(severity)))
	}
	if b.summary == "" && severity != model.SeverityIgnore {
		return nil, b.defect("summary required")
	}
	score := model.NoScore
	if b.hasScore {
		if math.IsNaN(b.score) || b.score < 0 || b.score > 100 {
			return nil, b.defect(fmt.Sprintf("score %v out of range", b.score))
		}
		score = b.score
		b.values[model.ScoreResult.Key] = score
	}
	return model.NewResult(model.ResultFields{
		RuleID:      b.rule.ID(),
		RuleName:    b.rule.Name(),
		Topic:       b.rule.Topic(),
		Severity:    severity,
		Score:       score,
		Summary:     b.expand(b.summary),
		Explanation: b.expand(b.explanation),
		Solution:    b.expand(b.solution),
		Values:      b.values,
	}), nil
}

// MustBuild is Build for rules whose result shape is fixed; a defect panics and is
// isolated by the scheduler.
func (b *ResultBuilder) MustBuild() *model.Result {
	res, err := b.Build()
	if err != nil {
		panic(err)
	}
	return res
}

func (b *ResultBuilder) defect(reason string) error {
	return &DefectError{RuleID: b.rule.ID(), Reason: reason}
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// expand substitutes {key} with a typed result value or a preference value.
func (b *ResultBuilder) expand(text string) string {
	if text == "" {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := b.values[key]; ok {
			return FormatValue(b.results[key].Kind, v)
		}
		if key == model.ScoreResult.Key && b.hasScore {
			return FormatValue(model.KindNumber, b.score)
		}
		for _, p := range b.rule.ConfigurationAttributes() {
			if p.Key == key {
				return FormatValue(p.Kind, b.prefs.Value(p))
			}
		}
		return m
	})
}

// FormatValue renders a typed value for human-readable text.
func FormatValue(kind model.Kind, v any) string {
	switch x := v.(type) {
	case time.Duration:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		if kind == model.KindPercent {
			return strconv.FormatFloat(x*100, 'f', 1, 64) + "%"
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	case []string:
		return fmt.Sprint(x)
	}
	return fmt.Sprint(v)
}
