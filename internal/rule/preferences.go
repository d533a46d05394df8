package rule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flightcheck/internal/model"
)

// Preferences supplies preference values. Value never fails; it falls back to the
// declared default.
type Preferences interface {
	Value(p model.TypedPreference) any
}

// Resolver is implemented by providers that can reject a configured value.
type Resolver interface {
	Resolve(p model.TypedPreference) (any, error)
}

type defaultPreferences struct{}

func (defaultPreferences) Value(p model.TypedPreference) any { return p.Default }

var DefaultPreferences Preferences = defaultPreferences{}

// MapPreferences overrides defaults from raw values keyed by preference key, as read
// from configuration.
type MapPreferences map[string]any

func (m MapPreferences) Value(p model.TypedPreference) any {
	v, err := m.Resolve(p)
	if err != nil {
		return p.Default
	}
	return v
}

func (m MapPreferences) Resolve(p model.TypedPreference) (any, error) {
	raw, ok := m[p.Key]
	if !ok || raw == nil {
		return p.Default, nil
	}
	v, err := Convert(p.Kind, raw)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(p, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Resolved holds frozen, converted preference values for one rule evaluation.
type Resolved map[string]any

func (r Resolved) Value(p model.TypedPreference) any {
	if v, ok := r[p.Key]; ok {
		return v
	}
	return p.Default
}

// ResolveAll resolves every declared preference of ruleID through prefs.
func ResolveAll(prefs Preferences, ruleID string, declared []model.TypedPreference) (Resolved, error) {
	if prefs == nil {
		prefs = DefaultPreferences
	}
	out := make(Resolved, len(declared))
	for _, p := range declared {
		var raw any
		if r, ok := prefs.(Resolver); ok {
			v, err := r.Resolve(p)
			if err != nil {
				return nil, &ConfigError{RuleID: ruleID, Key: p.Key, Value: rawValue(prefs, p), Err: err}
			}
			raw = v
		} else {
			raw = prefs.Value(p)
		}
		v, err := Convert(p.Kind, raw)
		if err != nil {
			return nil, &ConfigError{RuleID: ruleID, Key: p.Key, Value: raw, Err: err}
		}
		out[p.Key] = v
	}
	return out, nil
}

func rawValue(prefs Preferences, p model.TypedPreference) any {
	if m, ok := prefs.(MapPreferences); ok {
		return m[p.Key]
	}
	return nil
}

// Get returns the preference value as T, falling back to the converted default.
func Get[T any](prefs Preferences, p model.TypedPreference) T {
	if prefs != nil {
		if v, ok := as[T](p.Kind, prefs.Value(p)); ok {
			return v
		}
	}
	v, _ := as[T](p.Kind, p.Default)
	return v
}

func as[T any](kind model.Kind, v any) (T, bool) {
	if out, ok := v.(T); ok {
		return out, true
	}
	var zero T
	converted, err := Convert(kind, v)
	if err != nil {
		return zero, false
	}
	out, ok := converted.(T)
	return out, ok
}

// Convert coerces a raw configured value to the Go type of kind: float64 for numbers
// and percents, time.Duration, string, bool and []string.
func Convert(kind model.Kind, raw any) (any, error) {
	switch kind {
	case model.KindNumber:
		return toNumber(raw)
	case model.KindPercent:
		if s, ok := raw.(string); ok && strings.HasSuffix(strings.TrimSpace(s), "%") {
			n, err := toNumber(strings.TrimSuffix(strings.TrimSpace(s), "%"))
			if err != nil {
				return nil, err
			}
			return n.(float64) / 100, nil
		}
		return toNumber(raw)
	case model.KindDuration:
		return toDuration(raw)
	case model.KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
		return fmt.Sprint(raw), nil
	case model.KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("not a boolean: %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("not a boolean: %v", raw)
	case model.KindList:
		switch v := raw.(type) {
		case []string:
			return append([]string(nil), v...), nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, fmt.Sprint(item))
			}
			return out, nil
		case string:
			out := make([]string, 0)
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
			return out, nil
		}
		return nil, fmt.Errorf("not a list: %v", raw)
	}
	return nil, fmt.Errorf("unsupported preference kind %q", kind)
}

func toNumber(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("not a number: %v", raw)
}

// toDuration accepts Go duration strings; bare numbers are milliseconds.
func toDuration(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d, nil
		}
	}
	n, err := toNumber(raw)
	if err != nil {
		return nil, fmt.Errorf("not a duration: %v", raw)
	}
	return time.Duration(n.(float64) * float64(time.Millisecond)), nil
}

func checkBounds(p model.TypedPreference, v any) error {
	if p.Bounds == nil {
		return nil
	}
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case time.Duration:
		n = x.Seconds()
	default:
		return nil
	}
	if p.Bounds.Min != nil && p.Bounds.MinExclusive && n <= *p.Bounds.Min {
		return fmt.Errorf("must be above %v", *p.Bounds.Min)
	}
	if p.Bounds.Min != nil && n < *p.Bounds.Min {
		return fmt.Errorf("below minimum %v", *p.Bounds.Min)
	}
	if p.Bounds.Max != nil && n > *p.Bounds.Max {
		return fmt.Errorf("above maximum %v", *p.Bounds.Max)
	}
	return nil
}
