package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"flightcheck/internal/gate"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
)

type State int32

const (
	StatePending State = iota
	StateGated
	StateSkipped
	StateRunning
	StateComplete
	StateFailed
	StateCancelled
)

var stateNames = [...]string{"pending", "gated", "skipped", "running", "complete", "failed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s == StateSkipped || s == StateComplete || s == StateFailed || s == StateCancelled
}

// Future tracks one rule's task within a run.
type Future struct {
	rule   rule.Rule
	deps   []*Future
	state  atomic.Int32
	done   chan struct{}
	result *model.Result
}

func (f *Future) RuleID() string { return f.rule.ID() }

// Done is closed when the task reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) State() State { return State(f.state.Load()) }

// Result returns the task's result once it is terminal. Cancelled tasks have none.
func (f *Future) Result() (*model.Result, bool) {
	select {
	case <-f.done:
		return f.result, f.result != nil
	default:
		return nil, false
	}
}

// PanicError is a panic recovered from a rule body.
type PanicError struct {
	RuleID string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("rule %s panicked: %v", e.RuleID, e.Value)
}

// Run is the handle of one evaluation.
type Run struct {
	id       string
	engine   *Engine
	src      recording.Source
	prefs    rule.Preferences
	cancel   context.CancelFunc
	gate     *gate.Gate
	slots    *semaphore.Weighted
	futures  map[string]*Future
	order    []*Future
	outcomes chan *Future
	stream   chan *model.Result
	done     chan struct{}
	report   *model.Report
	err      error
	started  time.Time
}

func (e *Engine) start(parent context.Context, src recording.Source, prefs rule.Preferences, workers int, streaming bool) *Run {
	if prefs == nil {
		prefs = rule.DefaultPreferences
	}
	rules := e.catalog.Rules()
	ctx, cancel := context.WithCancel(parent)
	r := &Run{
		id:       e.newRunID(),
		engine:   e,
		src:      src,
		prefs:    prefs,
		cancel:   cancel,
		gate:     gate.New(src),
		slots:    semaphore.NewWeighted(int64(workers)),
		futures:  make(map[string]*Future, len(rules)),
		order:    make([]*Future, 0, len(rules)),
		outcomes: make(chan *Future, len(rules)),
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	if streaming {
		r.stream = make(chan *model.Result, len(rules))
	}
	for _, rl := range rules {
		f := &Future{rule: rl, done: make(chan struct{})}
		for _, dep := range rl.Dependencies() {
			f.deps = append(f.deps, r.futures[dep.RuleID])
		}
		r.futures[rl.ID()] = f
		r.order = append(r.order, f)
	}

	ctx, span := e.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.Int("rules", len(rules)),
		attribute.Int("workers", workers),
	))
	if e.logger != nil {
		e.logger.Debug("evaluation started", "run_id", r.id, "rules", len(rules), "workers", workers)
	}

	g := new(errgroup.Group)
	for _, f := range r.order {
		f := f
		g.Go(func() error {
			r.runTask(ctx, f)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(r.outcomes)
	}()
	go r.collect(ctx, span)
	return r
}

// collect is the only writer of the report.
func (r *Run) collect(ctx context.Context, span trace.Span) {
	defer span.End()
	results := make([]*model.Result, 0, len(r.order))
	cancelled := make([]string, 0)
	for f := range r.outcomes {
		if f.State() == StateCancelled {
			cancelled = append(cancelled, f.RuleID())
			continue
		}
		results = append(results, f.result)
		if r.stream != nil {
			r.stream <- f.result
		}
	}
	e := r.engine
	r.report = model.NewReport(r.id, recording.Describe(r.src), e.now(), results, cancelled)
	outcome := "complete"
	if len(cancelled) > 0 {
		outcome = "cancelled"
		r.err = fmt.Errorf("%w: %d of %d rules did not run: %w", ErrCancelled, len(cancelled), len(r.order), context.Cause(ctx))
		span.SetStatus(codes.Error, "cancelled")
	}
	elapsed := time.Since(r.started)
	e.metrics.RunFinished(outcome, elapsed)
	if e.logger != nil {
		e.logger.Info("evaluation finished",
			"run_id", r.id,
			"recording", r.report.Recording().Name,
			"results", r.report.Len(),
			"cancelled", len(cancelled),
			"worst", r.report.Worst(),
			"elapsed", elapsed,
		)
	}
	if r.stream != nil {
		close(r.stream)
	}
	r.cancel()
	close(r.done)
}

func (r *Run) runTask(ctx context.Context, f *Future) {
	id := f.RuleID()
	if ctx.Err() != nil {
		r.finish(f, StateCancelled, nil)
		return
	}

	f.state.Store(int32(StateGated))
	if level, res := r.gate.Check(f.rule); res != nil {
		r.engine.metrics.RuleGated(id, level.String())
		r.finish(f, StateSkipped, res)
		return
	}

	for _, dep := range f.deps {
		if dep == nil {
			continue
		}
		select {
		case <-dep.done:
		case <-ctx.Done():
			r.finish(f, StateCancelled, nil)
			return
		}
	}
	if ctx.Err() != nil {
		r.finish(f, StateCancelled, nil)
		return
	}
	prior, ignored := r.priorResults(f)
	if ignored != nil {
		r.finish(f, StateSkipped, ignored)
		return
	}

	prefs, err := rule.ResolveAll(r.prefs, id, f.rule.ConfigurationAttributes())
	if err != nil {
		var cfgErr *rule.ConfigError
		if !errors.As(err, &cfgErr) {
			cfgErr = &rule.ConfigError{RuleID: id, Err: err}
		}
		if r.engine.logger != nil {
			r.engine.logger.Warn("rule misconfigured", "run_id", r.id, "rule_id", id, "key", cfgErr.Key, "err", cfgErr.Err)
		}
		r.finish(f, StateSkipped, rule.Misconfigured(f.rule, cfgErr))
		return
	}

	if err := r.slots.Acquire(ctx, 1); err != nil {
		r.finish(f, StateCancelled, nil)
		return
	}
	defer r.slots.Release(1)
	if ctx.Err() != nil {
		r.finish(f, StateCancelled, nil)
		return
	}

	f.state.Store(int32(StateRunning))
	r.engine.metrics.RuleStarted()
	started := time.Now()
	res, err := r.invoke(ctx, f, prefs, prior)
	elapsed := time.Since(started)
	r.engine.metrics.RuleFinished(id, elapsed)

	switch {
	case err != nil && ctx.Err() != nil:
		r.finish(f, StateCancelled, nil)
	case err != nil:
		r.logFault(id, err)
		r.finish(f, StateFailed, rule.Failed(f.rule, r.describeFault(err)))
	case res == nil:
		err = &rule.DefectError{RuleID: id, Reason: "no result returned"}
		r.logFault(id, err)
		r.finish(f, StateFailed, rule.Failed(f.rule, err))
	default:
		if r.engine.logger != nil {
			r.engine.logger.Debug("rule evaluated", "run_id", r.id, "rule_id", id, "severity", res.Severity(), "elapsed", elapsed)
		}
		r.finish(f, StateComplete, stamp(f.rule, res))
	}
}

func (r *Run) invoke(ctx context.Context, f *Future, prefs rule.Preferences, prior rule.PriorResults) (res *model.Result, err error) {
	if r.engine.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.engine.ruleTimeout)
		defer cancel()
	}
	ctx, span := r.engine.tracer.Start(ctx, "rule.evaluate", trace.WithAttributes(
		attribute.String("rule.id", f.RuleID()),
		attribute.String("rule.topic", f.rule.Topic()),
	))
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &PanicError{RuleID: f.RuleID(), Value: p, Stack: debug.Stack()}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if res != nil {
			span.SetAttributes(attribute.String("rule.severity", string(res.Severity())))
		}
	}()
	return f.rule.Evaluate(ctx, r.src, prefs, prior)
}

func (r *Run) describeFault(err error) error {
	if r.engine.ruleTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rule timed out after %s: %w", r.engine.ruleTimeout, err)
	}
	return err
}

func (r *Run) logFault(id string, err error) {
	if r.engine.logger == nil {
		return
	}
	var defect *rule.DefectError
	var p *PanicError
	switch {
	case errors.As(err, &defect):
		r.engine.logger.Error("rule defect", "run_id", r.id, "rule_id", id, "err", err)
	case errors.As(err, &p):
		r.engine.logger.Error("rule panicked", "run_id", r.id, "rule_id", id, "panic", fmt.Sprint(p.Value), "stack", string(p.Stack))
	default:
		r.engine.logger.Error("rule failed", "run_id", r.id, "rule_id", id, "err", err)
	}
}

// priorResults collects the dependency results f may see. A dependency that did not
// complete, or fell short of the declared minimum severity, yields the Ignore result
// that replaces f's evaluation.
func (r *Run) priorResults(f *Future) (rule.PriorResults, *model.Result) {
	prior := rule.PriorMap{}
	for i, dep := range f.rule.Dependencies() {
		df := f.deps[i]
		if df == nil || df.State() != StateComplete || df.result == nil {
			return nil, rule.Ignored(f.rule, fmt.Sprintf("Dependency %s did not produce a usable result.", dep.RuleID))
		}
		if dep.MinSeverity != "" && !df.result.Severity().AtLeast(dep.MinSeverity) {
			return nil, rule.Ignored(f.rule, fmt.Sprintf("Only relevant when %s reports %s or worse; it reported %s.", dep.RuleID, dep.MinSeverity, df.result.Severity()))
		}
		prior[dep.RuleID] = df.result
	}
	return prior, nil
}

func (r *Run) finish(f *Future, state State, res *model.Result) {
	f.result = res
	f.state.Store(int32(state))
	close(f.done)
	severity := "none"
	if res != nil {
		severity = string(res.Severity())
	}
	r.engine.metrics.RuleOutcome(f.RuleID(), state.String(), severity)
	r.outcomes <- f
}

// stamp makes sure a result carries its rule's identity.
func stamp(rl rule.Rule, res *model.Result) *model.Result {
	if res.RuleID() == rl.ID() && res.RuleName() == rl.Name() && res.Topic() == rl.Topic() {
		return res
	}
	fields := res.Fields()
	fields.RuleID = rl.ID()
	fields.RuleName = rl.Name()
	fields.Topic = rl.Topic()
	return model.NewResult(fields)
}

func (r *Run) ID() string { return r.id }

// Cancel stops the run. Rules not yet started are cancelled; running rules observe
// their context.
func (r *Run) Cancel() { r.cancel() }

// Done is closed once the report is complete.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Wait() (*model.Report, error) {
	<-r.done
	return r.report, r.err
}

func (r *Run) Future(ruleID string) (*Future, bool) {
	f, ok := r.futures[ruleID]
	return f, ok
}

func (r *Run) States() map[string]State {
	out := make(map[string]State, len(r.order))
	for _, f := range r.order {
		out[f.RuleID()] = f.State()
	}
	return out
}
