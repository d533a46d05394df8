package recording

import (
	"math"
	"sort"
	"time"
)

// Aggregator reduces a set of events to a single value. The bool result is false
// when the events carry nothing to aggregate.
type Aggregator struct {
	name string
	fn   func(events []Event) (any, bool)
}

func NewAggregator(name string, fn func(events []Event) (any, bool)) Aggregator {
	return Aggregator{name: name, fn: fn}
}

func (a Aggregator) Name() string { return a.name }

func (a Aggregator) Apply(events []Event) (any, bool) {
	if a.fn == nil {
		return nil, false
	}
	return a.fn(events)
}

// Query runs a against src and asserts the result type.
func Query[T any](src Source, a Aggregator) (T, bool) {
	var zero T
	v, ok := src.Aggregate(a)
	if !ok {
		return zero, false
	}
	out, ok := v.(T)
	return out, ok
}

func Count() Aggregator {
	return NewAggregator("count", func(events []Event) (any, bool) {
		return len(events), true
	})
}

func Sum(field string) Aggregator {
	return NewAggregator("sum("+field+")", func(events []Event) (any, bool) {
		total, n := 0.0, 0
		for _, ev := range events {
			if v, ok := ev.Number(field); ok {
				total += v
				n++
			}
		}
		return total, n > 0
	})
}

func Max(field string) Aggregator {
	return NewAggregator("max("+field+")", func(events []Event) (any, bool) {
		out, n := math.Inf(-1), 0
		for _, ev := range events {
			if v, ok := ev.Number(field); ok {
				out = math.Max(out, v)
				n++
			}
		}
		return out, n > 0
	})
}

func Min(field string) Aggregator {
	return NewAggregator("min("+field+")", func(events []Event) (any, bool) {
		out, n := math.Inf(1), 0
		for _, ev := range events {
			if v, ok := ev.Number(field); ok {
				out = math.Min(out, v)
				n++
			}
		}
		return out, n > 0
	})
}

func Avg(field string) Aggregator {
	return NewAggregator("avg("+field+")", func(events []Event) (any, bool) {
		total, n := 0.0, 0
		for _, ev := range events {
			if v, ok := ev.Number(field); ok {
				total += v
				n++
			}
		}
		if n == 0 {
			return 0.0, false
		}
		return total / float64(n), true
	})
}

// Distinct returns the sorted distinct text values of field.
func Distinct(field string) Aggregator {
	return NewAggregator("distinct("+field+")", func(events []Event) (any, bool) {
		seen := map[string]struct{}{}
		for _, ev := range events {
			if _, ok := ev.Field(field); ok {
				seen[ev.Text(field)] = struct{}{}
			}
		}
		out := make([]string, 0, len(seen))
		for v := range seen {
			out = append(out, v)
		}
		sort.Strings(out)
		return out, len(out) > 0
	})
}

// GroupCount counts events per text value of field.
func GroupCount(field string) Aggregator {
	return NewAggregator("group("+field+")", func(events []Event) (any, bool) {
		out := map[string]int{}
		for _, ev := range events {
			if _, ok := ev.Field(field); ok {
				out[ev.Text(field)]++
			}
		}
		return out, len(out) > 0
	})
}

// First returns the earliest event.
func First() Aggregator {
	return NewAggregator("first", func(events []Event) (any, bool) {
		if len(events) == 0 {
			return Event{}, false
		}
		first := events[0]
		for _, ev := range events[1:] {
			if ev.Start.Before(first.Start) {
				first = ev
			}
		}
		return first, true
	})
}

// Longest returns the event with the longest duration.
func Longest() Aggregator {
	return NewAggregator("longest", func(events []Event) (any, bool) {
		if len(events) == 0 {
			return Event{}, false
		}
		longest := events[0]
		for _, ev := range events[1:] {
			if ev.Duration() > longest.Duration() {
				longest = ev
			}
		}
		return longest, true
	})
}

func TotalDuration() Aggregator {
	return NewAggregator("total_duration", func(events []Event) (any, bool) {
		var total time.Duration
		for _, ev := range events {
			total += ev.Duration()
		}
		return total, len(events) > 0
	})
}

// Collect returns a copy of the events in start order.
func Collect() Aggregator {
	return NewAggregator("collect", func(events []Event) (any, bool) {
		out := make([]Event, len(events))
		copy(out, events)
		return out, len(out) > 0
	})
}

type Span struct {
	Start time.Time
	End   time.Time
}

func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// TimeSpan returns the interval covered by the events.
func TimeSpan() Aggregator {
	return NewAggregator("span", func(events []Event) (any, bool) {
		if len(events) == 0 {
			return Span{}, false
		}
		span := Span{Start: events[0].Start, End: events[0].Start}
		for _, ev := range events {
			if ev.Start.Before(span.Start) {
				span.Start = ev.Start
			}
			last := ev.Start
			if ev.End.After(last) {
				last = ev.End
			}
			if last.After(span.End) {
				span.End = last
			}
		}
		return span, true
	})
}
