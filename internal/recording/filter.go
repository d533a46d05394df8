package recording

import (
	"regexp"
	"time"
)

// Filter selects events. A nil Filter matches everything.
type Filter func(Event) bool

func Type(id string) Filter {
	return func(ev Event) bool { return ev.Type == id }
}

func Types(ids ...string) Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(ev Event) bool {
		_, ok := set[ev.Type]
		return ok
	}
}

// Attr matches events whose field renders to the same text as value.
func Attr(field string, value any) Filter {
	want := toText(value)
	return func(ev Event) bool {
		v, ok := ev.Field(field)
		return ok && toText(v) == want
	}
}

func HasAttr(field string) Filter {
	return func(ev Event) bool {
		_, ok := ev.Field(field)
		return ok
	}
}

func AttrMatches(field string, re *regexp.Regexp) Filter {
	return func(ev Event) bool {
		v, ok := ev.Field(field)
		return ok && re.MatchString(toText(v))
	}
}

// AttrAtLeast matches events whose numeric field is >= min.
func AttrAtLeast(field string, min float64) Filter {
	return func(ev Event) bool {
		n, ok := ev.Number(field)
		return ok && n >= min
	}
}

// Range matches events starting in [from, to). Zero bounds are open.
func Range(from, to time.Time) Filter {
	return func(ev Event) bool {
		if !from.IsZero() && ev.Start.Before(from) {
			return false
		}
		if !to.IsZero() && !ev.Start.Before(to) {
			return false
		}
		return true
	}
}

func And(filters ...Filter) Filter {
	return func(ev Event) bool {
		for _, f := range filters {
			if f != nil && !f(ev) {
				return false
			}
		}
		return true
	}
}

func Or(filters ...Filter) Filter {
	return func(ev Event) bool {
		for _, f := range filters {
			if f != nil && f(ev) {
				return true
			}
		}
		return false
	}
}

func Not(f Filter) Filter {
	return func(ev Event) bool { return !f(ev) }
}
