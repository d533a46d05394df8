package checks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

const (
	loadedClassField   = "loadedClass"
	unloadedClassField = "unloadedClass"
)

var (
	classLoadLimit = model.TypedPreference{
		Key:         "classloading.duration.limit",
		Name:        "Class load duration limit",
		Description: "Duration of a single class load at which the score reaches 50.",
		Kind:        model.KindDuration,
		Default:     time.Second,
		Bounds:      model.Positive(),
	}

	longestClassLoad     = model.TypedResult{Key: "longestClassLoad", Name: "Longest class load", Kind: model.KindDuration}
	longestClassLoadName = model.TypedResult{Key: "longestClassLoadName", Name: "Slowest class", Kind: model.KindString}
	classLoadCount       = model.TypedResult{Key: "classLoadCount", Name: "Classes loaded", Kind: model.KindNumber}
	classUnloadCount     = model.TypedResult{Key: "classUnloadCount", Name: "Classes unloaded", Kind: model.KindNumber}
)

type ClassLoading struct {
	rule.Base
	score scoreFunc
}

func NewClassLoading() *ClassLoading {
	return &ClassLoading{score: scoring.Score, Base: rule.Base{
		RuleID:    "ClassLoading",
		RuleName:  "Class Loading Pressure",
		RuleTopic: TopicClassLoad,
		Requirements: []model.EventRequirement{
			model.Requires(TypeClassLoad, model.AvailabilityAvailable),
			model.Requires(TypeClassUnload, model.AvailabilityEnabled),
		},
		Preferences: []model.TypedPreference{classLoadLimit},
		Results:     []model.TypedResult{longestClassLoad, longestClassLoadName, classLoadCount, classUnloadCount},
	}}
}

func (r *ClassLoading) Evaluate(_ context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	loads := src.Apply(recording.Type(TypeClassLoad))
	longest, ok := recording.Query[recording.Event](loads, recording.Longest())
	if !ok {
		return rule.TooFewEvents(r), nil
	}
	if _, ok := longest.Field(loadedClassField); !ok {
		return rule.MissingAttribute(r, TypeClassLoad, loadedClassField), nil
	}
	loaded, _ := recording.Query[int](loads, recording.Count())
	unloaded, _ := recording.Query[int](src.Apply(recording.Type(TypeClassUnload)), recording.Count())
	limit := rule.Get[time.Duration](prefs, classLoadLimit)

	score := r.score(longest.Duration().Seconds(), limit.Seconds())
	b := rule.NewResult(r, prefs).
		Score(score).
		Add(longestClassLoad, longest.Duration()).
		Add(longestClassLoadName, longest.Text(loadedClassField)).
		Add(classLoadCount, float64(loaded)).
		Add(classUnloadCount, float64(unloaded))
	if model.SeverityFor(score) == model.SeverityOK {
		return b.Summary("No class took long to load; the longest load was {longestClassLoad}.").Build()
	}
	return b.
		Summary("Loading {longestClassLoadName} took {longestClassLoad}.").
		Explanation("{classLoadCount} classes were loaded during the recording. Slow class loading usually points at " +
			"a slow class path, heavy static initialization or contention on a class loader.").
		Solution("Check the class path for slow or remote entries and review static initializers of slow classes.").
		Build()
}

var (
	classLeakLimit = model.TypedPreference{
		Key:         "classLeaking.warning.limit",
		Name:        "Class load count limit",
		Description: "Number of net loads of the same class at which the rule warns.",
		Kind:        model.KindNumber,
		Default:     25.0,
		Bounds:      model.AtLeastValue(1),
	}
	classLeakReport = model.TypedPreference{
		Key:         "classesToReport.limit",
		Name:        "Classes to report",
		Description: "Maximum number of classes listed in the result.",
		Kind:        model.KindNumber,
		Default:     5.0,
		Bounds:      model.Between(1, 100),
	}

	loadedClasses        = model.TypedResult{Key: "loadedClasses", Name: "Repeatedly loaded classes", Kind: model.KindList}
	mostLoadedClass      = model.TypedResult{Key: "mostLoadedClass", Name: "Most loaded class", Kind: model.KindString}
	mostLoadedClassTimes = model.TypedResult{Key: "mostLoadedClassTimes", Name: "Times loaded", Kind: model.KindNumber}
)

type ClassLeak struct {
	rule.Base
}

func NewClassLeak() *ClassLeak {
	return &ClassLeak{Base: rule.Base{
		RuleID:    "ClassLeak",
		RuleName:  "Class Leak",
		RuleTopic: TopicClassLoad,
		Requirements: []model.EventRequirement{
			model.Requires(TypeClassLoad, model.AvailabilityEnabled),
			model.Requires(TypeClassUnload, model.AvailabilityEnabled),
		},
		Preferences: []model.TypedPreference{classLeakLimit, classLeakReport},
		Results:     []model.TypedResult{loadedClasses, mostLoadedClass, mostLoadedClassTimes},
		DependsOn:   []rule.Dependency{{RuleID: "ClassLoading", MinSeverity: model.SeverityInfo}},
	}}
}

type classCount struct {
	name  string
	count int
}

func (r *ClassLeak) Evaluate(ctx context.Context, src recording.Source, prefs rule.Preferences, _ rule.PriorResults) (*model.Result, error) {
	loads, _ := recording.Query[map[string]int](src.Apply(recording.Type(TypeClassLoad)), recording.GroupCount(loadedClassField))
	if len(loads) == 0 {
		return rule.TooFewEvents(r), nil
	}
	unloads, _ := recording.Query[map[string]int](src.Apply(recording.Type(TypeClassUnload)), recording.GroupCount(unloadedClassField))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make([]classCount, 0, len(loads))
	for name, n := range loads {
		if net := n - unloads[name]; net > 0 {
			counts = append(counts, classCount{name: name, count: net})
		}
	}
	if len(counts) == 0 {
		return rule.NewResult(r, prefs).Score(0).Summary("Every loaded class was also unloaded.").Build()
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].name < counts[j].name
	})
	limit := rule.Get[float64](prefs, classLeakLimit)
	report := int(rule.Get[float64](prefs, classLeakReport))
	if report < len(counts) {
		counts = counts[:report]
	}
	listed := make([]string, len(counts))
	for i, c := range counts {
		listed[i] = fmt.Sprintf("%s (%d)", c.name, c.count)
	}
	top := counts[0]

	score := scoring.MapExp100(float64(top.count), limit) * 0.75
	b := rule.NewResult(r, prefs).
		Score(score).
		Add(loadedClasses, listed).
		Add(mostLoadedClass, top.name).
		Add(mostLoadedClassTimes, float64(top.count))
	if model.SeverityFor(score) == model.SeverityOK {
		return b.Summary("No classes were loaded repeatedly without being unloaded.").Build()
	}
	return b.
		Summary("{mostLoadedClass} was loaded {mostLoadedClassTimes} times without being unloaded.").
		Explanation("Classes loaded many more times than they are unloaded can indicate a class loader leak. " +
			"Most loaded classes: {loadedClasses}.").
		Solution("Look for code that creates new class loaders repeatedly, such as dynamic proxies or scripting engines.").
		Build()
}
