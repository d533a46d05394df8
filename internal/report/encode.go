package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"flightcheck/internal/model"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

func ParseFormat(v string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(v))); f {
	case "", FormatText, "txt":
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown report format %q", v)
}

type Options struct {
	Format Format
	// MinSeverity drops results below it; empty keeps everything.
	MinSeverity model.Severity
	// Verbose adds explanations, solutions and values to text output.
	Verbose bool
	// Run adds the run id and timestamp.
	Run bool
}

// Encode writes reps to w. A single report encodes as one document, several as a list.
func Encode(w io.Writer, opts Options, reps ...*model.Report) error {
	if len(reps) == 0 {
		return errors.New("no reports to encode")
	}
	docs := make([]Document, len(reps))
	for i, rep := range reps {
		if rep == nil {
			return fmt.Errorf("report %d is nil", i)
		}
		docs[i] = NewDocument(rep, opts.MinSeverity)
		if opts.Run {
			docs[i].Run = runDoc(rep)
		}
	}
	var payload any = docs
	if len(docs) == 1 {
		payload = docs[0]
	}
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(payload); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		for i, doc := range docs {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := writeText(w, doc, opts.Verbose); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown report format %q", opts.Format)
}

// Marshal encodes a single report as JSON without run metadata.
func Marshal(rep *model.Report) ([]byte, error) {
	return marshal(rep, Options{Format: FormatJSON})
}

// MarshalRun encodes a single report as JSON including its run id and timestamp.
func MarshalRun(rep *model.Report) ([]byte, error) {
	return marshal(rep, Options{Format: FormatJSON, Run: true})
}

func marshal(rep *model.Report, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, opts, rep); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads JSON or YAML produced by Encode.
func Decode(r io.Reader) ([]*model.Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty report")
	}
	var docs []Document
	switch trimmed[0] {
	case '[':
		err = json.Unmarshal(trimmed, &docs)
	case '{':
		var doc Document
		err = json.Unmarshal(trimmed, &doc)
		docs = []Document{doc}
	case '-':
		err = yaml.Unmarshal(trimmed, &docs)
	default:
		var doc Document
		err = yaml.Unmarshal(trimmed, &doc)
		docs = []Document{doc}
	}
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	reps := make([]*model.Report, 0, len(docs))
	for _, doc := range docs {
		rep, err := doc.Report()
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return reps, nil
}

func writeText(w io.Writer, doc Document, verbose bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Recording: %s (%d events", doc.Recording.Name, doc.Recording.EventCount)
	if doc.Recording.Start != "" {
		fmt.Fprintf(&b, ", %s to %s", doc.Recording.Start, doc.Recording.End)
	}
	b.WriteString(")\n")
	if doc.Run != nil {
		fmt.Fprintf(&b, "Run: %s at %s\n", doc.Run.ID, doc.Run.GeneratedAt)
	}

	for _, res := range doc.Results {
		name := res.RuleName
		if name == "" {
			name = res.RuleID
		}
		fmt.Fprintf(&b, "\n[%s] %s (%s)", strings.ToUpper(string(res.Severity)), name, res.RuleID)
		if res.Score != nil {
			fmt.Fprintf(&b, " score %.1f", *res.Score)
		}
		b.WriteString("\n")
		if res.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", res.Summary)
		}
		if res.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", res.Error)
		}
		if !verbose {
			continue
		}
		if res.Explanation != "" {
			fmt.Fprintf(&b, "  %s\n", res.Explanation)
		}
		if res.Solution != "" {
			fmt.Fprintf(&b, "  Solution: %s\n", res.Solution)
		}
		keys := make([]string, 0, len(res.Values))
		for k := range res.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %v\n", k, res.Values[k])
		}
	}
	if len(doc.Cancelled) > 0 {
		fmt.Fprintf(&b, "\nCancelled: %s\n", strings.Join(doc.Cancelled, ", "))
	}
	b.WriteString("\n")
	b.WriteString(countLine(doc.Counts))
	_, err := io.WriteString(w, b.String())
	return err
}

var countOrder = []model.Severity{
	model.SeverityWarning, model.SeverityInfo, model.SeverityOK,
	model.SeverityNA, model.SeverityIgnore, model.SeverityFailed,
}

func countLine(counts map[string]int) string {
	parts := make([]string, 0, len(countOrder))
	for _, s := range countOrder {
		if n := counts[string(s)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "No results.\n"
	}
	return strings.Join(parts, ", ") + "\n"
}
