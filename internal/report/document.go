// Package report encodes evaluation reports for people and machines.
package report

import (
	"fmt"
	"time"

	"flightcheck/internal/model"
)

// Document is the versioned, serializable form of a report. Without Run it depends
// only on the recording and the results, so repeated evaluations encode identically.
type Document struct {
	Version   string         `json:"version" yaml:"version"`
	Run       *RunDoc        `json:"run,omitempty" yaml:"run,omitempty"`
	Recording RecordingDoc   `json:"recording" yaml:"recording"`
	Counts    map[string]int `json:"counts" yaml:"counts"`
	Results   []ResultDoc    `json:"results" yaml:"results"`
	Cancelled []string       `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// RunDoc identifies one evaluation run.
type RunDoc struct {
	ID          string `json:"id" yaml:"id"`
	GeneratedAt string `json:"generated_at" yaml:"generated_at"`
}

type RecordingDoc struct {
	Name       string `json:"name" yaml:"name"`
	EventCount int    `json:"event_count" yaml:"event_count"`
	TypeCount  int    `json:"type_count" yaml:"type_count"`
	Start      string `json:"start,omitempty" yaml:"start,omitempty"`
	End        string `json:"end,omitempty" yaml:"end,omitempty"`
}

type ResultDoc struct {
	RuleID      string         `json:"rule_id" yaml:"rule_id"`
	RuleName    string         `json:"rule_name,omitempty" yaml:"rule_name,omitempty"`
	Topic       string         `json:"topic,omitempty" yaml:"topic,omitempty"`
	Severity    model.Severity `json:"severity" yaml:"severity"`
	Score       *float64       `json:"score,omitempty" yaml:"score,omitempty"`
	Summary     string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Explanation string         `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Solution    string         `json:"solution,omitempty" yaml:"solution,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Values      map[string]any `json:"values,omitempty" yaml:"values,omitempty"`
}

// NewDocument converts rep, keeping only results at or above min when min is set.
func NewDocument(rep *model.Report, min model.Severity) Document {
	doc := Document{
		Version:   rep.Version(),
		Recording: recordingDoc(rep.Recording()),
		Counts:    map[string]int{},
		Results:   []ResultDoc{},
		Cancelled: rep.Cancelled(),
	}
	for _, res := range rep.Results() {
		doc.Counts[string(res.Severity())]++
		if min != "" && !res.Severity().AtLeast(min) {
			continue
		}
		doc.Results = append(doc.Results, resultDoc(res))
	}
	return doc
}

func runDoc(rep *model.Report) *RunDoc {
	return &RunDoc{ID: rep.RunID(), GeneratedAt: formatTime(rep.GeneratedAt())}
}

func recordingDoc(info model.RecordingInfo) RecordingDoc {
	return RecordingDoc{
		Name:       info.Name,
		EventCount: info.EventCount,
		TypeCount:  info.TypeCount,
		Start:      formatTime(info.Start),
		End:        formatTime(info.End),
	}
}

func resultDoc(res *model.Result) ResultDoc {
	doc := ResultDoc{
		RuleID:      res.RuleID(),
		RuleName:    res.RuleName(),
		Topic:       res.Topic(),
		Severity:    res.Severity(),
		Summary:     res.Summary(),
		Explanation: res.Explanation(),
		Solution:    res.Solution(),
		Error:       res.Error(),
	}
	if res.HasScore() {
		score := res.Score()
		doc.Score = &score
	}
	doc.Values = Values(res)
	return doc
}

// Values returns the portable form of the typed values of res, without the score.
// It returns nil when there are none.
func Values(res *model.Result) map[string]any {
	values := res.Values()
	delete(values, model.ScoreResult.Key)
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = exportValue(v)
	}
	return out
}

// exportValue renders values that have no portable JSON form as strings.
func exportValue(v any) any {
	switch x := v.(type) {
	case time.Duration:
		return x.String()
	case time.Time:
		return formatTime(x)
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Report rebuilds a model report from the document.
func (d Document) Report() (*model.Report, error) {
	if d.Version != model.ReportVersion {
		return nil, fmt.Errorf("unsupported report version %q", d.Version)
	}
	var runID string
	var generated time.Time
	if d.Run != nil {
		at, err := parseTime(d.Run.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("run generated_at: %w", err)
		}
		runID, generated = d.Run.ID, at
	}
	start, err := parseTime(d.Recording.Start)
	if err != nil {
		return nil, fmt.Errorf("recording start: %w", err)
	}
	end, err := parseTime(d.Recording.End)
	if err != nil {
		return nil, fmt.Errorf("recording end: %w", err)
	}
	results := make([]*model.Result, 0, len(d.Results))
	for _, r := range d.Results {
		if !r.Severity.Valid() {
			return nil, fmt.Errorf("rule %s: invalid severity %q", r.RuleID, r.Severity)
		}
		score := model.NoScore
		values := make(map[string]any, len(r.Values)+1)
		for k, v := range r.Values {
			values[k] = importValue(v)
		}
		if r.Score != nil {
			score = *r.Score
			values["score"] = score
		}
		results = append(results, model.NewResult(model.ResultFields{
			RuleID:      r.RuleID,
			RuleName:    r.RuleName,
			Topic:       r.Topic,
			Severity:    r.Severity,
			Score:       score,
			Summary:     r.Summary,
			Explanation: r.Explanation,
			Solution:    r.Solution,
			Error:       r.Error,
			Values:      values,
		}))
	}
	info := model.RecordingInfo{
		Name:       d.Recording.Name,
		EventCount: d.Recording.EventCount,
		TypeCount:  d.Recording.TypeCount,
		Start:      start,
		End:        end,
	}
	return model.NewReport(runID, info, generated, results, d.Cancelled), nil
}

func importValue(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return v
		}
		out = append(out, s)
	}
	return out
}
