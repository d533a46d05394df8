package checks

import (
	"sort"
	"time"

	"flightcheck/internal/recording"
)

// eventWindow counts events between a moving start and end. Events must be added in
// time order.
type eventWindow struct {
	times []time.Time
	head  int
}

func (w *eventWindow) Add(at time.Time) {
	w.times = append(w.times, at)
}

func (w *eventWindow) Evict(cutoff time.Time) {
	for w.head < len(w.times) && w.times[w.head].Before(cutoff) {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.times) {
		w.times = append([]time.Time{}, w.times[w.head:]...)
		w.head = 0
	}
}

func (w *eventWindow) Len() int {
	return len(w.times) - w.head
}

// peak is the busiest window found by maxRate.
type peak struct {
	PerMinute float64
	Start     time.Time
	End       time.Time
}

// maxRate slides a window of size over the events in steps of slide, starting at the
// first event, and returns the window with the highest event rate. Both window ends
// are inclusive.
func maxRate(events []recording.Event, size, slide time.Duration) (peak, bool) {
	if len(events) == 0 || size <= 0 {
		return peak{}, false
	}
	if slide <= 0 {
		slide = size
	}
	times := make([]time.Time, len(events))
	for i, ev := range events {
		times[i] = eventTime(ev)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	var (
		best peak
		w    eventWindow
		next int
	)
	last := times[len(times)-1]
	minutes := size.Minutes()
	for start := times[0]; ; start = start.Add(slide) {
		end := start.Add(size)
		for next < len(times) && !times[next].After(end) {
			w.Add(times[next])
			next++
		}
		w.Evict(start)
		if n := w.Len(); n > 0 {
			if rate := float64(n) / minutes; rate > best.PerMinute {
				best = peak{PerMinute: rate, Start: start, End: end}
			}
		}
		if !start.Add(slide).Before(last) {
			break
		}
	}
	return best, best.PerMinute > 0
}

func eventTime(ev recording.Event) time.Time {
	if ev.End.After(ev.Start) {
		return ev.End
	}
	return ev.Start
}
