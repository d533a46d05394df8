package model

import (
	"sort"
	"time"
)

// Result is the immutable outcome of evaluating one rule against one recording.
type Result struct {
	ruleID      string
	ruleName    string
	topic       string
	severity    Severity
	score       float64
	summary     string
	explanation string
	solution    string
	values      map[string]any
	errDetail   string
}

type ResultFields struct {
	RuleID      string
	RuleName    string
	Topic       string
	Severity    Severity
	Score       float64
	Summary     string
	Explanation string
	Solution    string
	Values      map[string]any
	Error       string
}

// NewResult freezes f into a Result. The values map is copied.
func NewResult(f ResultFields) *Result {
	values := make(map[string]any, len(f.Values))
	for k, v := range f.Values {
		values[k] = v
	}
	return &Result{
		ruleID:      f.RuleID,
		ruleName:    f.RuleName,
		topic:       f.Topic,
		severity:    f.Severity,
		score:       f.Score,
		summary:     f.Summary,
		explanation: f.Explanation,
		solution:    f.Solution,
		values:      values,
		errDetail:   f.Error,
	}
}

func (r *Result) RuleID() string      { return r.ruleID }
func (r *Result) RuleName() string    { return r.ruleName }
func (r *Result) Topic() string       { return r.topic }
func (r *Result) Severity() Severity  { return r.severity }
func (r *Result) Score() float64      { return r.score }
func (r *Result) Summary() string     { return r.summary }
func (r *Result) Explanation() string { return r.explanation }
func (r *Result) Solution() string    { return r.solution }
func (r *Result) Error() string       { return r.errDetail }

func (r *Result) HasScore() bool {
	return r.score >= 0
}

// Value returns a typed result value by key.
func (r *Result) Value(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Values returns a copy of the typed result values.
func (r *Result) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *Result) ValueKeys() []string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fields returns an editable copy, used to derive a new Result.
func (r *Result) Fields() ResultFields {
	return ResultFields{
		RuleID:      r.ruleID,
		RuleName:    r.ruleName,
		Topic:       r.topic,
		Severity:    r.severity,
		Score:       r.score,
		Summary:     r.summary,
		Explanation: r.explanation,
		Solution:    r.solution,
		Values:      r.Values(),
		Error:       r.errDetail,
	}
}

type RecordingInfo struct {
	Name       string    `json:"name"`
	EventCount int       `json:"event_count"`
	TypeCount  int       `json:"type_count"`
	Start      time.Time `json:"start,omitempty"`
	End        time.Time `json:"end,omitempty"`
}
