package checks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcheck/internal/engine"
	"flightcheck/internal/gate"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func evaluate(t *testing.T, r rule.Rule, rec *recording.Recording, prefs rule.Preferences) *model.Result {
	t.Helper()
	resolved, err := rule.ResolveAll(prefs, r.ID(), r.ConfigurationAttributes())
	require.NoError(t, err)
	res, err := r.Evaluate(context.Background(), rec, resolved, rule.PriorMap{})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// countScoring replaces the scorer of one rule with a counting wrapper.
func countScoring(score *scoreFunc) *atomic.Int64 {
	var calls atomic.Int64
	*score = func(v, l float64) float64 {
		calls.Add(1)
		return scoring.Score(v, l)
	}
	return &calls
}

func TestBuiltinCatalogIsValid(t *testing.T) {
	c, err := Catalog()
	require.NoError(t, err)
	assert.Equal(t, len(Builtin()), c.Len())
	assert.Equal(t, []string{"ClassLeak"}, c.Dependents("ClassLoading"))
	assert.Contains(t, c.Topics(), TopicGC)
}

func TestBufferLostWithoutLosses(t *testing.T) {
	rec := recording.NewBuilder("ok.jfr").
		Setting(recording.EnabledSetting(TypeDataLoss, true)).
		Event(recording.Event{Type: TypeCPULoad, Start: t0}).
		Build()
	r := NewBufferLost()
	level, gated := gate.Check(rec, r)
	require.Nil(t, gated)
	assert.Equal(t, model.AvailabilityEnabled, level)

	res := evaluate(t, r, rec, nil)
	assert.Equal(t, model.SeverityOK, res.Severity())
	assert.Equal(t, 0.0, res.Score())
}

func TestBufferLostAboveLimit(t *testing.T) {
	b := recording.NewBuilder("lossy.jfr").Setting(recording.EnabledSetting(TypeDataLoss, true))
	for i := 0; i < 150; i++ {
		b.Event(recording.Event{Type: TypeDataLoss, Start: t0.Add(time.Duration(i) * time.Second), Fields: map[string]any{"amount": 1024}})
	}
	res := evaluate(t, NewBufferLost(), b.Build(), rule.MapPreferences{"bufferlost.warning.limit": 1})

	assert.Equal(t, model.SeverityWarning, res.Severity())
	assert.Greater(t, res.Score(), 50.0)
	assert.Less(t, res.Score(), 100.0)
	v, ok := res.Value("droppedCount")
	require.True(t, ok)
	assert.Equal(t, 150.0, v)
	v, _ = res.Value("droppedBytes")
	assert.Equal(t, 150.0*1024, v)
	assert.Equal(t, "The recording lost 150 buffers.", res.Summary())
}

func TestBufferLostRejectsZeroLimit(t *testing.T) {
	lost := NewBufferLost()
	calls := countScoring(&lost.score)
	rec := recording.NewBuilder("lossy.jfr").
		Setting(recording.EnabledSetting(TypeDataLoss, true)).
		Event(recording.Event{Type: TypeDataLoss, Start: t0, Fields: map[string]any{"amount": 1024}}).
		Build()

	catalog, err := rule.NewCatalog(lost)
	require.NoError(t, err)
	e, err := engine.New(catalog)
	require.NoError(t, err)
	rep, err := e.Evaluate(context.Background(), rec, rule.MapPreferences{"bufferlost.warning.limit": 0})
	require.NoError(t, err)

	res, ok := rep.Result("BufferLost")
	require.True(t, ok)
	assert.Equal(t, model.SeverityNA, res.Severity())
	assert.Contains(t, res.Error(), "must be above 0")
	assert.Equal(t, int64(0), calls.Load())
}

func TestClassLoadingNotApplicableWithoutEvents(t *testing.T) {
	loading := NewClassLoading()
	calls := countScoring(&loading.score)
	rec := recording.NewBuilder("plain.jfr").
		Event(recording.Event{Type: TypeCPULoad, Start: t0}).
		Build()

	catalog, err := rule.NewCatalog(loading)
	require.NoError(t, err)
	e, err := engine.New(catalog)
	require.NoError(t, err)
	rep, err := e.Evaluate(context.Background(), rec, nil)
	require.NoError(t, err)

	res, ok := rep.Result("ClassLoading")
	require.True(t, ok)
	assert.Equal(t, model.SeverityNA, res.Severity())
	assert.Equal(t, int64(0), calls.Load())
}

func classRecording(loads map[string]int, unloads map[string]int, loadTime time.Duration) *recording.Recording {
	b := recording.NewBuilder("classes.jfr").
		Setting(recording.EnabledSetting(TypeClassLoad, true)).
		Setting(recording.EnabledSetting(TypeClassUnload, true))
	at := t0
	for name, n := range loads {
		for i := 0; i < n; i++ {
			b.Event(recording.Event{Type: TypeClassLoad, Start: at, End: at.Add(loadTime), Fields: map[string]any{loadedClassField: name}})
			at = at.Add(time.Millisecond)
		}
	}
	for name, n := range unloads {
		for i := 0; i < n; i++ {
			b.Event(recording.Event{Type: TypeClassUnload, Start: at, Fields: map[string]any{unloadedClassField: name}})
			at = at.Add(time.Millisecond)
		}
	}
	return b.Build()
}

func TestClassLoadingScoresLongestLoad(t *testing.T) {
	loading := NewClassLoading()
	calls := countScoring(&loading.score)
	rec := classRecording(map[string]int{"com.example.Slow": 1}, nil, 2*time.Second)
	res := evaluate(t, loading, rec, nil)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, model.SeverityWarning, res.Severity())
	v, _ := res.Value("longestClassLoadName")
	assert.Equal(t, "com.example.Slow", v)
	assert.Equal(t, "Loading com.example.Slow took 2s.", res.Summary())
}

func TestClassLeak(t *testing.T) {
	rec := classRecording(
		map[string]int{"com.example.Proxy": 60, "com.example.Once": 1, "com.example.Gone": 3},
		map[string]int{"com.example.Gone": 3},
		time.Millisecond,
	)
	res := evaluate(t, NewClassLeak(), rec, rule.MapPreferences{"classesToReport.limit": 1})

	assert.Equal(t, model.SeverityInfo, res.Severity())
	assert.Less(t, res.Score(), model.WarningThreshold)
	v, _ := res.Value("mostLoadedClass")
	assert.Equal(t, "com.example.Proxy", v)
	v, _ = res.Value("mostLoadedClassTimes")
	assert.Equal(t, 60.0, v)
	v, _ = res.Value("loadedClasses")
	assert.Equal(t, []string{"com.example.Proxy (60)"}, v)
}

func TestClassLeakIgnoredWhenLoadingIsHealthy(t *testing.T) {
	rec := classRecording(map[string]int{"com.example.Proxy": 60}, nil, time.Millisecond)
	catalog, err := rule.NewCatalog(NewClassLoading(), NewClassLeak())
	require.NoError(t, err)
	e, err := engine.New(catalog)
	require.NoError(t, err)

	rep, err := e.Evaluate(context.Background(), rec, nil)
	require.NoError(t, err)
	loading, _ := rep.Result("ClassLoading")
	assert.Equal(t, model.SeverityOK, loading.Severity())
	leak, _ := rep.Result("ClassLeak")
	assert.Equal(t, model.SeverityIgnore, leak.Severity())
}

func errorRecording(perSecond map[int]int, class func(i int) string) *recording.Recording {
	b := recording.NewBuilder("errors.jfr")
	n := 0
	for sec, count := range perSecond {
		for i := 0; i < count; i++ {
			at := t0.Add(time.Duration(sec)*time.Second + time.Duration(i)*time.Millisecond)
			b.Event(recording.Event{Type: TypeErrorThrow, Start: at, Fields: map[string]any{thrownClassField: class(n)}})
			n++
		}
	}
	return b.Build()
}

func TestErrorsPeakRate(t *testing.T) {
	rec := errorRecording(map[int]int{0: 10, 200: 90}, func(i int) string {
		if i%3 == 0 {
			return "java.lang.OutOfMemoryError"
		}
		return "java.lang.StackOverflowError"
	})
	res := evaluate(t, NewErrors(), rec, nil)

	assert.Equal(t, model.SeverityWarning, res.Severity())
	v, _ := res.Value("errorRate")
	assert.Equal(t, 90.0, v)
	v, _ = res.Value("errorCount")
	assert.Equal(t, 100.0, v)
	v, _ = res.Value("mostCommonError")
	assert.Equal(t, "java.lang.StackOverflowError", v)
}

func TestErrorsExcluded(t *testing.T) {
	rec := errorRecording(map[int]int{0: 5}, func(int) string { return "com.example.IgnoredError" })
	res := evaluate(t, NewErrors(), rec, rule.MapPreferences{"error.exclude.regexp": "Ignored"})

	assert.Equal(t, model.SeverityOK, res.Severity())
	v, _ := res.Value("excludedErrors")
	assert.Equal(t, 5.0, v)
}

func TestErrorsRejectsInvertedLimits(t *testing.T) {
	rec := errorRecording(map[int]int{0: 5}, func(int) string { return "java.lang.Error" })
	res := evaluate(t, NewErrors(), rec, rule.MapPreferences{"error.info.limit": 50, "error.warning.limit": 10})
	assert.Equal(t, model.SeverityNA, res.Severity())
	assert.Contains(t, res.Summary(), "error.warning.limit")
}

func TestMaxRateSlidesByHalfWindow(t *testing.T) {
	var events []recording.Event
	for i := 0; i < 30; i++ {
		events = append(events, recording.Event{Start: t0.Add(40*time.Second + time.Duration(i)*time.Second)})
	}
	p, ok := maxRate(events, time.Minute, 30*time.Second)
	require.True(t, ok)
	assert.Equal(t, 30.0, p.PerMinute)
	assert.Equal(t, t0.Add(40*time.Second), p.Start)

	_, ok = maxRate(nil, time.Minute, 30*time.Second)
	assert.False(t, ok)
}

func TestGcPause(t *testing.T) {
	rec := recording.NewBuilder("gc.jfr").
		Event(recording.Event{Type: TypeGCPhasePause, Start: t0, End: t0.Add(20 * time.Millisecond)}).
		Event(recording.Event{Type: TypeGCPhasePause, Start: t0.Add(time.Second), End: t0.Add(time.Second + 3*time.Second)}).
		Event(recording.Event{Type: TypeCPULoad, Start: t0.Add(10 * time.Second)}).
		Build()
	res := evaluate(t, NewGcPause(), rec, nil)

	assert.Equal(t, model.SeverityInfo, res.Severity())
	v, _ := res.Value("longestPause")
	assert.Equal(t, 3*time.Second, v)
	v, _ = res.Value("pauseRatio")
	assert.InDelta(t, 0.302, v, 0.001)
}

func cpuRecording(span time.Duration, load float64) *recording.Recording {
	b := recording.NewBuilder("cpu.jfr")
	for at := time.Duration(0); at <= span; at += time.Second {
		b.Event(recording.Event{Type: TypeCPULoad, Start: t0.Add(at), Fields: map[string]any{
			jvmUserField: load * 0.75, jvmSystemField: load * 0.25,
		}})
	}
	return b.Build()
}

func TestHighJvmCpuNeverWarns(t *testing.T) {
	res := evaluate(t, NewHighJvmCpu(), cpuRecording(30*time.Second, 1.0), nil)
	assert.Equal(t, model.SeverityInfo, res.Severity())
	assert.Less(t, res.Score(), model.WarningThreshold)
	v, _ := res.Value("averageJvmCpu")
	assert.InDelta(t, 1.0, v, 1e-9)

	res = evaluate(t, NewHighJvmCpu(), cpuRecording(30*time.Second, 0.1), nil)
	assert.Equal(t, model.SeverityOK, res.Severity())
}

func TestHighJvmCpuShortRecording(t *testing.T) {
	res := evaluate(t, NewHighJvmCpu(), cpuRecording(3*time.Second, 0.9), nil)
	assert.Equal(t, model.SeverityNA, res.Severity())
}

func TestDiscouragedVmOptions(t *testing.T) {
	cases := []struct {
		args string
		want model.Severity
	}{
		{"-Xmx2g -XX:+UseG1GC", model.SeverityOK},
		{"-Xmx2g -XX:MaxPermSize=256m", model.SeverityInfo},
		{"-XX:+AggressiveOpts -Xincgc -noverify", model.SeverityWarning},
	}
	for _, tc := range cases {
		t.Run(tc.args, func(t *testing.T) {
			rec := recording.NewBuilder("vm.jfr").
				Event(recording.Event{Type: TypeJVMInformation, Start: t0, Fields: map[string]any{jvmArgumentsField: tc.args}}).
				Build()
			res := evaluate(t, NewDiscouragedVmOptions(), rec, nil)
			assert.Equal(t, tc.want, res.Severity(), res.Summary())
		})
	}
}

func TestBuiltinRulesOnEmptyRecording(t *testing.T) {
	c, err := Catalog()
	require.NoError(t, err)
	e, err := engine.New(c)
	require.NoError(t, err)

	rep, err := e.Evaluate(context.Background(), recording.New("empty", nil, nil), nil)
	require.NoError(t, err)
	for _, res := range rep.Results() {
		assert.Contains(t, []model.Severity{model.SeverityNA, model.SeverityIgnore}, res.Severity(), res.RuleID())
	}
}
