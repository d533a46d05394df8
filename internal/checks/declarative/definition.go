// Package declarative builds rules from YAML definitions whose metric is a CEL
// expression over aggregates of the recording.
package declarative

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"flightcheck/internal/model"
	"flightcheck/internal/rule"
)

// Definition describes one declarative rule.
//
//	id: LongSafepoints
//	topic: vm_operations
//	inputs:
//	  longest: {type: jdk.SafepointBegin, aggregate: max, field: duration}
//	metric: longest
//	limit: 0.5
//	summary: "The longest safepoint took {longest} seconds."
type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Topic       string            `json:"topic,omitempty" yaml:"topic,omitempty"`
	Requires    []Requirement     `json:"requires,omitempty" yaml:"requires,omitempty"`
	Inputs      map[string]Input  `json:"inputs" yaml:"inputs"`
	When        string            `json:"when,omitempty" yaml:"when,omitempty"`
	Metric      string            `json:"metric" yaml:"metric"`
	Limit       float64           `json:"limit" yaml:"limit"`
	LimitKey    string            `json:"limit_key,omitempty" yaml:"limit_key,omitempty"`
	Summary     string            `json:"summary" yaml:"summary"`
	Explanation string            `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Solution    string            `json:"solution,omitempty" yaml:"solution,omitempty"`
	DependsOn   []rule.Dependency `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

type Requirement struct {
	Type  string             `json:"type" yaml:"type"`
	Level model.Availability `json:"level" yaml:"level"`
}

// Input binds a CEL variable to an aggregate over events of one type. Duration
// values are in seconds.
type Input struct {
	Type      string `json:"type" yaml:"type"`
	Aggregate string `json:"aggregate" yaml:"aggregate"`
	Field     string `json:"field,omitempty" yaml:"field,omitempty"`
}

const (
	AggCount         = "count"
	AggSum           = "sum"
	AggMax           = "max"
	AggMin           = "min"
	AggAvg           = "avg"
	AggTotalDuration = "total_duration"
	AggSpan          = "span"
)

// Reserved CEL variables available to every expression.
const (
	VarLimit    = "limit"
	VarDuration = "recording_seconds"
)

var (
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reserved   = map[string]bool{VarLimit: true, VarDuration: true, "value": true, "score": true}
)

func (d Definition) limitKey() string {
	if d.LimitKey != "" {
		return d.LimitKey
	}
	return strings.ToLower(d.ID) + ".limit"
}

// Validate checks the definition shape; expressions are checked by Compile.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("rule id required")
	}
	if strings.TrimSpace(d.Metric) == "" {
		return fmt.Errorf("rule %s: metric expression required", d.ID)
	}
	if d.Summary == "" {
		return fmt.Errorf("rule %s: summary required", d.ID)
	}
	if d.Limit <= 0 {
		return fmt.Errorf("rule %s: limit must be positive", d.ID)
	}
	if len(d.Inputs) == 0 {
		return fmt.Errorf("rule %s: at least one input required", d.ID)
	}
	for name, in := range d.Inputs {
		if !identifier.MatchString(name) || reserved[name] {
			return fmt.Errorf("rule %s: invalid input name %q", d.ID, name)
		}
		if in.Type == "" {
			return fmt.Errorf("rule %s: input %s: event type required", d.ID, name)
		}
		switch in.Aggregate {
		case AggCount, AggTotalDuration, AggSpan:
		case AggSum, AggMax, AggMin, AggAvg:
			if in.Field == "" {
				return fmt.Errorf("rule %s: input %s: %s needs a field", d.ID, name, in.Aggregate)
			}
		default:
			return fmt.Errorf("rule %s: input %s: unknown aggregate %q", d.ID, name, in.Aggregate)
		}
	}
	for _, req := range d.Requires {
		if req.Type == "" {
			return fmt.Errorf("rule %s: requirement without event type", d.ID)
		}
	}
	return nil
}

type document struct {
	Rules []Definition `yaml:"rules"`
}

// Parse reads definitions from YAML. Both a top-level list and a document with a
// "rules" key are accepted.
func Parse(r io.Reader) ([]Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var defs []Definition
	if trimmed[0] == '-' {
		err = yaml.Unmarshal(trimmed, &defs)
	} else {
		var doc document
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		err = dec.Decode(&doc)
		defs = doc.Rules
	}
	if err != nil {
		return nil, fmt.Errorf("decode rule definitions: %w", err)
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func LoadFile(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}
