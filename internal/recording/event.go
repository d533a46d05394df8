package recording

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recording settings travel as ordinary events of SettingType whose fields name the
// configured event type, the setting and its value.
const (
	SettingType      = "jdk.ActiveSetting"
	SettingTypeField = "id"
	SettingNameField = "name"
	SettingValue     = "value"

	SettingEnabled   = "enabled"
	SettingThreshold = "threshold"
	SettingPeriod    = "period"
)

type Event struct {
	Type   string
	Start  time.Time
	End    time.Time
	Thread string
	Fields map[string]any
}

func (e Event) Duration() time.Duration {
	if e.End.IsZero() || e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Field looks up an attribute. "thread" and "duration" are always present.
func (e Event) Field(name string) (any, bool) {
	if v, ok := e.Fields[name]; ok {
		return v, true
	}
	switch name {
	case "thread":
		return e.Thread, e.Thread != ""
	case "duration":
		return e.Duration(), true
	}
	return nil, false
}

func (e Event) Text(name string) string {
	v, ok := e.Field(name)
	if !ok || v == nil {
		return ""
	}
	return toText(v)
}

func (e Event) Number(name string) (float64, bool) {
	v, ok := e.Field(name)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

type TypeInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Setting struct {
	TypeID string `json:"type" yaml:"type"`
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value" yaml:"value"`
}

func (s Setting) Event(at time.Time) Event {
	return Event{
		Type:  SettingType,
		Start: at,
		Fields: map[string]any{
			SettingTypeField: s.TypeID,
			SettingNameField: s.Name,
			SettingValue:     s.Value,
		},
	}
}

// EnabledSetting is shorthand for the "enabled" setting of an event type.
func EnabledSetting(typeID string, enabled bool) Setting {
	return Setting{TypeID: typeID, Name: SettingEnabled, Value: strconv.FormatBool(enabled)}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case time.Duration:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
