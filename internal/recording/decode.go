package recording

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatAuto  Format = ""
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps a configured format name to a Format; "auto" and empty sniff
// the content.
func ParseFormat(v string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(v))); f {
	case "", "auto":
		return FormatAuto, nil
	case FormatJSON, FormatJSONL, FormatYAML:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	case "yml":
		return FormatYAML, nil
	}
	return FormatAuto, fmt.Errorf("unknown recording format %q", v)
}

type DecodeOptions struct {
	Name     string
	Format   Format
	Location *time.Location
}

type document struct {
	Name     string           `json:"name" yaml:"name"`
	Types    []TypeInfo       `json:"types" yaml:"types"`
	Settings []Setting        `json:"settings" yaml:"settings"`
	Events   []map[string]any `json:"events" yaml:"events"`
}

// LoadFile reads a recording from a JSON, JSON Lines or YAML file.
func LoadFile(path string, opts DecodeOptions) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if opts.Format == FormatAuto {
		opts.Format = formatFromPath(path)
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	rec, err := Decode(bytes.NewReader(data), opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return rec, nil
}

func formatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	return FormatAuto
}

func Decode(r io.Reader, opts DecodeOptions) (*Recording, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == FormatAuto {
		format = sniffFormat(data)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var doc document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSONL:
		events, err := decodeLines(data)
		if err != nil {
			return nil, err
		}
		doc.Events = events
	default:
		return nil, fmt.Errorf("unsupported recording format %q", format)
	}

	name := doc.Name
	if opts.Name != "" && name == "" {
		name = opts.Name
	}
	events := make([]Event, 0, len(doc.Events)+len(doc.Settings))
	var first time.Time
	for i, raw := range doc.Events {
		ev, err := DecodeEvent(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if first.IsZero() || ev.Start.Before(first) {
			first = ev.Start
		}
		events = append(events, ev)
	}
	for _, s := range doc.Settings {
		if s.TypeID == "" || s.Name == "" {
			return nil, errors.New("setting requires type and name")
		}
		events = append(events, s.Event(first))
	}
	types := doc.Types
	if len(types) > 0 {
		types = mergeTypes(types, deriveTypes(events))
	}
	return New(name, types, events), nil
}

func decodeLines(data []byte) ([]map[string]any, error) {
	out := make([]map[string]any, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, obj)
	}
	return out, scanner.Err()
}

func sniffFormat(data []byte) Format {
	trim := bytes.TrimSpace(data)
	if !looksLikeJSON(trim) {
		return FormatYAML
	}
	if bytes.Count(trim, []byte("\n")) > 0 && !bytes.HasPrefix(trim, []byte("[")) {
		firstLine := trim
		if idx := bytes.IndexByte(trim, '\n'); idx >= 0 {
			firstLine = trim[:idx]
		}
		if json.Valid(bytes.TrimSpace(firstLine)) {
			return FormatJSONL
		}
	}
	return FormatJSON
}

func looksLikeJSON(data []byte) bool {
	for _, ch := range data {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

var (
	typeKeys   = []string{"type", "event_type", "eventType"}
	startKeys  = []string{"start", "startTime", "timestamp", "time", "ts"}
	endKeys    = []string{"end", "endTime"}
	threadKeys = []string{"thread", "eventThread"}
)

// DecodeEvent converts a loosely keyed object into an Event. Unrecognized keys become
// fields; a nested "fields" object is merged in. Numeric durations are milliseconds.
func DecodeEvent(raw map[string]any, loc *time.Location) (Event, error) {
	ev := Event{Fields: map[string]any{}}
	used := map[string]bool{"fields": true, "duration": true}

	key, v := firstPresent(raw, typeKeys)
	used[key] = true
	ev.Type = strings.TrimSpace(toText(v))
	if ev.Type == "" || v == nil {
		return Event{}, errors.New("event type required")
	}

	key, v = firstPresent(raw, startKeys)
	used[key] = true
	if v != nil {
		ts, err := parseTimeValue(v, loc)
		if err != nil {
			return Event{}, fmt.Errorf("parse start: %w", err)
		}
		ev.Start = ts.UTC()
	}
	key, v = firstPresent(raw, endKeys)
	used[key] = true
	if v != nil {
		ts, err := parseTimeValue(v, loc)
		if err != nil {
			return Event{}, fmt.Errorf("parse end: %w", err)
		}
		ev.End = ts.UTC()
	}
	if d, ok := raw["duration"]; ok && ev.End.IsZero() {
		dur, err := parseDurationValue(d)
		if err != nil {
			return Event{}, fmt.Errorf("parse duration: %w", err)
		}
		ev.End = ev.Start.Add(dur)
	}
	key, v = firstPresent(raw, threadKeys)
	used[key] = true
	if v != nil {
		ev.Thread = toText(v)
	}

	if nested, ok := raw["fields"].(map[string]any); ok {
		for k, fv := range nested {
			ev.Fields[k] = fv
		}
	}
	for k, fv := range raw {
		if used[k] {
			continue
		}
		ev.Fields[k] = fv
	}
	return ev, nil
}

func firstPresent(raw map[string]any, keys []string) (string, any) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return k, v
		}
	}
	return "", nil
}

func parseTimeValue(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return ParseTimestamp(t, loc)
	}
	if f, ok := toFloat(v); ok {
		return ParseTimestamp(strconv.FormatInt(int64(f), 10), loc)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp value %v", v)
}

func parseDurationValue(v any) (time.Duration, error) {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, nil
		}
	}
	if f, ok := toFloat(v); ok {
		if f < 0 {
			return 0, fmt.Errorf("negative duration %v", v)
		}
		return time.Duration(f * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("unsupported duration value %v", v)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339 and common log layouts, or unix seconds and
// milliseconds. Layouts without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
