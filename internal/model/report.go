package model

import (
	"sort"
	"time"
)

const ReportVersion = "flightcheck.report/v1"

// Report is the complete, frozen outcome of one evaluation run.
type Report struct {
	version     string
	runID       string
	recording   RecordingInfo
	generatedAt time.Time
	results     map[string]*Result
	order       []string
	cancelled   []string
}

// NewReport builds a report. Results are ordered by rule id; cancelled ids are sorted.
func NewReport(runID string, recording RecordingInfo, generatedAt time.Time, results []*Result, cancelled []string) *Report {
	rep := &Report{
		version:     ReportVersion,
		runID:       runID,
		recording:   recording,
		generatedAt: generatedAt.UTC(),
		results:     make(map[string]*Result, len(results)),
		order:       make([]string, 0, len(results)),
		cancelled:   append([]string(nil), cancelled...),
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		if _, dup := rep.results[res.RuleID()]; !dup {
			rep.order = append(rep.order, res.RuleID())
		}
		rep.results[res.RuleID()] = res
	}
	sort.Strings(rep.order)
	sort.Strings(rep.cancelled)
	return rep
}

func (r *Report) Version() string          { return r.version }
func (r *Report) RunID() string            { return r.runID }
func (r *Report) Recording() RecordingInfo { return r.recording }
func (r *Report) GeneratedAt() time.Time   { return r.generatedAt }
func (r *Report) Len() int                 { return len(r.order) }

func (r *Report) Result(ruleID string) (*Result, bool) {
	res, ok := r.results[ruleID]
	return res, ok
}

// Results returns results sorted by rule id.
func (r *Report) Results() []*Result {
	out := make([]*Result, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.results[id])
	}
	return out
}

func (r *Report) Cancelled() []string {
	return append([]string(nil), r.cancelled...)
}

// Count returns the number of results with the given severity.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, res := range r.results {
		if res.Severity() == s {
			n++
		}
	}
	return n
}

// Worst returns the highest ordered severity in the report, or SeverityOK.
func (r *Report) Worst() Severity {
	worst := SeverityOK
	for _, res := range r.results {
		if res.Severity().Rank() > worst.Rank() {
			worst = res.Severity()
		}
	}
	return worst
}
