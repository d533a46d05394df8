// Package engine schedules rule evaluations against a recording.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"flightcheck/internal/metrics"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
)

var ErrCancelled = errors.New("evaluation cancelled")

type Engine struct {
	catalog     *rule.Catalog
	workers     int
	logger      *slog.Logger
	metrics     *metrics.Collector
	tracer      trace.Tracer
	now         func() time.Time
	newRunID    func() string
	ruleTimeout time.Duration
}

type Option func(*Engine)

// WithWorkers bounds the number of rules evaluating at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock sets the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithRunIDs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newRunID = next
		}
	}
}

// WithRuleTimeout fails rules that run longer than d. Zero disables the limit.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.ruleTimeout = d }
}

func New(catalog *rule.Catalog, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("rule catalog required")
	}
	e := &Engine{
		catalog:  catalog,
		workers:  runtime.GOMAXPROCS(0),
		tracer:   otel.Tracer("flightcheck/engine"),
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Catalog() *rule.Catalog { return e.catalog }

func (e *Engine) Workers() int { return e.workers }

// Evaluate runs every rule in the catalog and blocks until the report is complete.
// When the context is cancelled the partial report is returned together with an
// error wrapping ErrCancelled.
func (e *Engine) Evaluate(ctx context.Context, src recording.Source, prefs rule.Preferences) (*model.Report, error) {
	return e.Start(ctx, src, prefs).Wait()
}

// EvaluateSequential evaluates with a single worker.
func (e *Engine) EvaluateSequential(ctx context.Context, src recording.Source, prefs rule.Preferences) (*model.Report, error) {
	return e.start(ctx, src, prefs, 1, false).Wait()
}

// Start begins an evaluation and returns its handle without waiting.
func (e *Engine) Start(ctx context.Context, src recording.Source, prefs rule.Preferences) *Run {
	return e.start(ctx, src, prefs, e.workers, false)
}

// Stream begins an evaluation and emits each result as soon as its rule reaches a
// terminal state. The channel is closed once the report is complete; results of
// cancelled rules are not emitted.
func (e *Engine) Stream(ctx context.Context, src recording.Source, prefs rule.Preferences) (<-chan *model.Result, *Run) {
	run := e.start(ctx, src, prefs, e.workers, true)
	return run.stream, run
}
