// Package recording holds the read-only event recording rules are evaluated against.
package recording

import (
	"sort"
	"sync"
	"time"

	"flightcheck/internal/model"
)

// Source is the query surface rules see. Implementations must be safe for
// concurrent readers and must never change once handed to the engine.
type Source interface {
	Apply(f Filter) Source
	Aggregate(a Aggregator) (any, bool)
	HasItems() bool
	Types() []TypeInfo
}

// Memoizer is implemented by sources that keep derived data for their own lifetime.
type Memoizer interface {
	Memo() *sync.Map
}

type Recording struct {
	name   string
	types  []TypeInfo
	events []Event
	memo   *sync.Map
}

// New builds an in-memory recording. Events are sorted by start time. When types is
// empty the type list is derived from the events and their settings.
func New(name string, types []TypeInfo, events []Event) *Recording {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	if len(types) == 0 {
		types = deriveTypes(sorted)
	} else {
		types = append([]TypeInfo(nil), types...)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
	return &Recording{
		name:   name,
		types:  types,
		events: sorted,
		memo:   &sync.Map{},
	}
}

func deriveTypes(events []Event) []TypeInfo {
	seen := map[string]bool{}
	out := make([]TypeInfo, 0)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, TypeInfo{ID: id})
	}
	for _, ev := range events {
		add(ev.Type)
		if ev.Type == SettingType {
			add(ev.Text(SettingTypeField))
		}
	}
	return out
}

func (r *Recording) Name() string { return r.name }

func (r *Recording) Apply(f Filter) Source {
	if f == nil {
		return r
	}
	out := make([]Event, 0)
	for _, ev := range r.events {
		if f(ev) {
			out = append(out, ev)
		}
	}
	return &Recording{
		name:   r.name,
		types:  r.types,
		events: out,
		memo:   &sync.Map{},
	}
}

func (r *Recording) Aggregate(a Aggregator) (any, bool) {
	return a.Apply(r.events)
}

func (r *Recording) HasItems() bool {
	return len(r.events) > 0
}

func (r *Recording) Types() []TypeInfo {
	return append([]TypeInfo(nil), r.types...)
}

func (r *Recording) Len() int {
	return len(r.events)
}

func (r *Recording) Memo() *sync.Map {
	return r.memo
}

func (r *Recording) Info() model.RecordingInfo {
	info := model.RecordingInfo{
		Name:       r.name,
		EventCount: len(r.events),
		TypeCount:  len(r.types),
	}
	if len(r.events) > 0 {
		info.Start = r.events[0].Start.UTC()
		end := info.Start
		for _, ev := range r.events {
			last := ev.Start
			if ev.End.After(last) {
				last = ev.End
			}
			if last.After(end) {
				end = last
			}
		}
		info.End = end.UTC()
	}
	return info
}

// Settings lists the recording settings carried by src.
func Settings(src Source) []Setting {
	events, ok := Query[[]Event](src.Apply(Type(SettingType)), Collect())
	if !ok {
		return nil
	}
	out := make([]Setting, 0, len(events))
	for _, ev := range events {
		out = append(out, Setting{
			TypeID: ev.Text(SettingTypeField),
			Name:   ev.Text(SettingNameField),
			Value:  ev.Text(SettingValue),
		})
	}
	return out
}

// Describe returns metadata for src when it is an in-memory recording.
func Describe(src Source) model.RecordingInfo {
	type describer interface {
		Info() model.RecordingInfo
	}
	if d, ok := src.(describer); ok {
		return d.Info()
	}
	count, _ := Query[int](src, Count())
	return model.RecordingInfo{EventCount: count, TypeCount: len(src.Types())}
}

// Builder accumulates events for New.
type Builder struct {
	name     string
	types    []TypeInfo
	events   []Event
	settings []Setting
	at       time.Time
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

func (b *Builder) Type(id, name string) *Builder {
	b.types = append(b.types, TypeInfo{ID: id, Name: name})
	return b
}

func (b *Builder) Setting(s Setting) *Builder {
	b.settings = append(b.settings, s)
	return b
}

func (b *Builder) Event(ev Event) *Builder {
	b.events = append(b.events, ev)
	if b.at.IsZero() || ev.Start.Before(b.at) {
		b.at = ev.Start
	}
	return b
}

func (b *Builder) Build() *Recording {
	events := append([]Event(nil), b.events...)
	for _, s := range b.settings {
		events = append(events, s.Event(b.at))
	}
	types := b.types
	if len(types) > 0 {
		types = mergeTypes(types, deriveTypes(events))
	}
	return New(b.name, types, events)
}

func mergeTypes(declared, derived []TypeInfo) []TypeInfo {
	seen := map[string]bool{}
	out := make([]TypeInfo, 0, len(declared)+len(derived))
	for _, t := range append(append([]TypeInfo(nil), declared...), derived...) {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}
