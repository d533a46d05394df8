package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcheck/internal/metrics"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/report"
	"flightcheck/internal/rule"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeRule struct {
	rule.Base
	calls atomic.Int64
	fn    func(ctx context.Context, prior rule.PriorResults) (*model.Result, error)
}

func (f *fakeRule) Evaluate(ctx context.Context, src recording.Source, prefs rule.Preferences, prior rule.PriorResults) (*model.Result, error) {
	f.calls.Add(1)
	if f.fn == nil {
		return rule.NewResult(f, prefs).Score(10).Summary("fine").Build()
	}
	return f.fn(ctx, prior)
}

func newFake(id string, fn func(ctx context.Context, prior rule.PriorResults) (*model.Result, error), deps ...rule.Dependency) *fakeRule {
	return &fakeRule{
		Base: rule.Base{RuleID: id, RuleName: "Fake " + id, RuleTopic: "test", DependsOn: deps},
		fn:   fn,
	}
}

func scored(r rule.Rule, score float64) func(context.Context, rule.PriorResults) (*model.Result, error) {
	return func(context.Context, rule.PriorResults) (*model.Result, error) {
		return rule.NewResult(r, nil).Score(score).Summary("scored").Build()
	}
}

func testRecording() *recording.Recording {
	return recording.NewBuilder("test.jfr").
		Event(recording.Event{Type: "jdk.GCPhasePause", Start: fixedNow, End: fixedNow.Add(time.Millisecond)}).
		Build()
}

func newEngineForTest(t *testing.T, rules []rule.Rule, opts ...Option) *Engine {
	t.Helper()
	catalog, err := rule.NewCatalog(rules...)
	require.NoError(t, err)
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string { return "run-1" }),
		WithWorkers(4),
	}, opts...)
	e, err := New(catalog, opts...)
	require.NoError(t, err)
	return e
}

func TestEvaluateProducesOrderedReport(t *testing.T) {
	b := newFake("b", nil)
	a := newFake("a", nil)
	e := newEngineForTest(t, []rule.Rule{b, a})

	rep, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Len())
	assert.Equal(t, "a", rep.Results()[0].RuleID())
	assert.Equal(t, "run-1", rep.RunID())
	assert.Equal(t, fixedNow, rep.GeneratedAt())
	assert.Equal(t, "test.jfr", rep.Recording().Name)
	assert.Empty(t, rep.Cancelled())
	res, ok := rep.Result("b")
	require.True(t, ok)
	assert.Equal(t, model.SeverityOK, res.Severity())
}

func TestGateSkipsUnavailableRuleWithoutInvoking(t *testing.T) {
	gated := newFake("needs-cpu", nil)
	gated.Requirements = []model.EventRequirement{model.Requires("jdk.CPULoad", model.AvailabilityAvailable)}
	e := newEngineForTest(t, []rule.Rule{gated})

	run := e.Start(context.Background(), testRecording(), nil)
	rep, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(0), gated.calls.Load())
	res, ok := rep.Result("needs-cpu")
	require.True(t, ok)
	assert.Equal(t, model.SeverityNA, res.Severity())
	assert.Equal(t, StateSkipped, run.States()["needs-cpu"])
}

func TestDependencyCompletesBeforeDependentRuns(t *testing.T) {
	var depDone atomic.Bool
	a := newFake("a", nil)
	a.fn = func(context.Context, rule.PriorResults) (*model.Result, error) {
		time.Sleep(30 * time.Millisecond)
		depDone.Store(true)
		return rule.NewResult(a, nil).Score(50).Summary("slow").Build()
	}
	var sawDependency atomic.Bool
	b := newFake("b", nil, rule.Dependency{RuleID: "a"})
	b.fn = func(_ context.Context, prior rule.PriorResults) (*model.Result, error) {
		res, ok := prior.Get("a")
		sawDependency.Store(depDone.Load() && ok && res.Score() == 50)
		return rule.NewResult(b, nil).Score(0).Summary("after a").Build()
	}
	e := newEngineForTest(t, []rule.Rule{b, a})

	_, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	assert.True(t, sawDependency.Load())
}

func TestDependencyBelowMinimumSeverityIgnoresDependent(t *testing.T) {
	a := newFake("a", nil)
	a.fn = scored(a, 5)
	b := newFake("b", nil, rule.Dependency{RuleID: "a", MinSeverity: model.SeverityInfo})
	e := newEngineForTest(t, []rule.Rule{a, b})

	rep, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	res, _ := rep.Result("b")
	assert.Equal(t, model.SeverityIgnore, res.Severity())
	assert.Equal(t, int64(0), b.calls.Load())

	a2 := newFake("a", nil)
	a2.fn = scored(a2, 60)
	b2 := newFake("b", nil, rule.Dependency{RuleID: "a", MinSeverity: model.SeverityInfo})
	e = newEngineForTest(t, []rule.Rule{a2, b2})
	rep, err = e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	res, _ = rep.Result("b")
	assert.Equal(t, model.SeverityOK, res.Severity())
	assert.Equal(t, int64(1), b2.calls.Load())
}

func TestGatedDependencyIgnoresDependent(t *testing.T) {
	a := newFake("a", nil)
	a.Requirements = []model.EventRequirement{model.Requires("jdk.Missing", model.AvailabilityAvailable)}
	b := newFake("b", nil, rule.Dependency{RuleID: "a"})
	e := newEngineForTest(t, []rule.Rule{a, b})

	rep, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	res, _ := rep.Result("b")
	assert.Equal(t, model.SeverityIgnore, res.Severity())
	assert.Equal(t, "Dependency a did not produce a usable result.", res.Summary())
}

func healthyRules() []rule.Rule {
	out := make([]rule.Rule, 0, 3)
	for i, id := range []string{"h1", "h2", "h3"} {
		r := newFake(id, nil)
		r.fn = scored(r, float64(i*30))
		out = append(out, r)
	}
	return out
}

func TestFaultIsolation(t *testing.T) {
	baseline, err := newEngineForTest(t, healthyRules()).Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)

	panics := newFake("panics", func(context.Context, rule.PriorResults) (*model.Result, error) {
		panic("boom")
	})
	errs := newFake("errors", func(context.Context, rule.PriorResults) (*model.Result, error) {
		return nil, errors.New("disk on fire")
	})
	empty := newFake("empty", func(context.Context, rule.PriorResults) (*model.Result, error) {
		return nil, nil
	})
	rules := append(healthyRules(), panics, errs, empty)
	rep, err := newEngineForTest(t, rules).Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)

	for _, res := range baseline.Results() {
		got, ok := rep.Result(res.RuleID())
		require.True(t, ok)
		assert.Equal(t, res, got)
	}
	for id, detail := range map[string]string{
		"panics": "rule panics panicked: boom",
		"errors": "disk on fire",
		"empty":  "rule empty: no result returned",
	} {
		res, ok := rep.Result(id)
		require.True(t, ok, id)
		assert.Equal(t, model.SeverityFailed, res.Severity(), id)
		assert.Equal(t, detail, res.Error(), id)
	}
}

func TestBuilderDefectBecomesFailedResult(t *testing.T) {
	undeclared := model.TypedResult{Key: "nope", Kind: model.KindNumber}
	bad := newFake("bad", nil)
	bad.fn = func(context.Context, rule.PriorResults) (*model.Result, error) {
		return rule.NewResult(bad, nil).Score(1).Summary("x").Add(undeclared, 1).MustBuild(), nil
	}
	rep, err := newEngineForTest(t, []rule.Rule{bad}).Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	res, _ := rep.Result("bad")
	assert.Equal(t, model.SeverityFailed, res.Severity())
	assert.Contains(t, res.Error(), "undeclared result")
}

func TestEvaluationIsIdempotent(t *testing.T) {
	e := newEngineForTest(t, healthyRules())
	first, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDefaultEngineEncodesIdentically(t *testing.T) {
	catalog, err := rule.NewCatalog(healthyRules()...)
	require.NoError(t, err)
	e, err := New(catalog)
	require.NoError(t, err)

	first, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID(), second.RunID())

	a, err := report.Marshal(first)
	require.NoError(t, err)
	b, err := report.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestParallelMatchesSequential(t *testing.T) {
	rules := healthyRules()
	dep := newFake("dep", nil, rule.Dependency{RuleID: "h3", MinSeverity: model.SeverityInfo})
	rules = append(rules, dep)
	e := newEngineForTest(t, rules, WithWorkers(8))

	parallel, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	sequential, err := e.EvaluateSequential(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	assert.Equal(t, sequential, parallel)
}

func TestWorkerPoolBound(t *testing.T) {
	var running, peak atomic.Int64
	rules := make([]rule.Rule, 0, 12)
	for _, id := range []string{"r01", "r02", "r03", "r04", "r05", "r06", "r07", "r08", "r09", "r10", "r11", "r12"} {
		r := newFake(id, nil)
		r.fn = func(context.Context, rule.PriorResults) (*model.Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return rule.NewResult(r, nil).Score(0).Summary("ok").Build()
		}
		rules = append(rules, r)
	}
	rep, err := newEngineForTest(t, rules, WithWorkers(3)).Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Len())
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestCancellationOmitsResults(t *testing.T) {
	started := make(chan struct{})
	blocker := newFake("blocker", func(ctx context.Context, _ rule.PriorResults) (*model.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	after := newFake("after", nil, rule.Dependency{RuleID: "blocker"})
	quick := newFake("quick", nil)
	e := newEngineForTest(t, []rule.Rule{blocker, after, quick})

	run := e.Start(context.Background(), testRecording(), nil)
	<-started
	quickFuture, ok := run.Future("quick")
	require.True(t, ok)
	<-quickFuture.Done()
	run.Cancel()

	rep, err := run.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"after", "blocker"}, rep.Cancelled())
	_, ok = rep.Result("blocker")
	assert.False(t, ok)
	_, ok = rep.Result("quick")
	assert.True(t, ok)
	assert.Equal(t, int64(0), after.calls.Load())
	assert.Equal(t, StateCancelled, run.States()["blocker"])

	blockerFuture, _ := run.Future("blocker")
	_, ok = blockerFuture.Result()
	assert.False(t, ok)
}

func TestParentContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newFake("a", nil)
	rep, err := newEngineForTest(t, []rule.Rule{a}).Evaluate(ctx, testRecording(), nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, rep.Len())
	assert.Equal(t, []string{"a"}, rep.Cancelled())
	assert.Equal(t, int64(0), a.calls.Load())
}

func TestStreamEmitsEveryResult(t *testing.T) {
	e := newEngineForTest(t, healthyRules())
	results, run := e.Stream(context.Background(), testRecording(), nil)
	seen := map[string]bool{}
	for res := range results {
		seen[res.RuleID()] = true
	}
	assert.Len(t, seen, 3)
	rep, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Len())
}

func TestMisconfiguredPreferenceDegradesResult(t *testing.T) {
	limit := model.TypedPreference{Key: "x.limit", Name: "Limit", Kind: model.KindNumber, Default: 1.0}
	r := newFake("x", nil)
	r.Preferences = []model.TypedPreference{limit}
	rep, err := newEngineForTest(t, []rule.Rule{r}).Evaluate(context.Background(), testRecording(), rule.MapPreferences{"x.limit": "many"})
	require.NoError(t, err)
	res, _ := rep.Result("x")
	assert.Equal(t, model.SeverityNA, res.Severity())
	assert.Equal(t, "Could not evaluate: bad configuration for x.limit.", res.Summary())
	assert.Equal(t, int64(0), r.calls.Load())
}

func TestRuleTimeoutFailsRule(t *testing.T) {
	slow := newFake("slow", func(ctx context.Context, _ rule.PriorResults) (*model.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rep, err := newEngineForTest(t, []rule.Rule{slow}, WithRuleTimeout(10*time.Millisecond)).
		Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	res, _ := rep.Result("slow")
	assert.Equal(t, model.SeverityFailed, res.Severity())
	assert.Contains(t, res.Error(), "timed out after 10ms")
}

func TestMetricsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEngineForTest(t, healthyRules(), WithMetrics(metrics.NewCollector(reg)))
	_, err := e.Evaluate(context.Background(), testRecording(), nil)
	require.NoError(t, err)
	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["flightcheck_rule_evaluations_total"])
	assert.True(t, names["flightcheck_engine_runs_total"])
}

func TestNewRequiresCatalog(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
