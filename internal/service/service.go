// Package service wires the engine to the report history, storage and sinks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"flightcheck/internal/checks"
	"flightcheck/internal/checks/declarative"
	"flightcheck/internal/config"
	"flightcheck/internal/engine"
	"flightcheck/internal/history"
	"flightcheck/internal/metrics"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/storage"
)

// Publisher is implemented by sink.Dispatcher.
type Publisher interface {
	Publish(ctx context.Context, rep *model.Report) error
	Close() error
}

type Service struct {
	cfg       *config.Manager
	engine    *engine.Engine
	history   *history.Store
	outcomes  *metrics.Store
	store     storage.Store
	publisher Publisher
	logger    *slog.Logger
}

type Options struct {
	Config    *config.Manager
	Engine    *engine.Engine
	History   *history.Store
	Outcomes  *metrics.Store
	Store     storage.Store
	Publisher Publisher
	Logger    *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config manager required")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine required")
	}
	return &Service{
		cfg:       opts.Config,
		engine:    opts.Engine,
		history:   opts.History,
		outcomes:  opts.Outcomes,
		store:     opts.Store,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}, nil
}

// BuildCatalog assembles the built-in and declarative rules and applies the
// configured selection.
func BuildCatalog(cfg *config.Config) (*rule.Catalog, error) {
	defs, err := cfg.LoadDefinitions()
	if err != nil {
		return nil, err
	}
	extra, err := declarative.Compile(defs...)
	if err != nil {
		return nil, err
	}
	catalog, err := checks.Catalog(extra...)
	if err != nil {
		return nil, err
	}
	return catalog.Select(cfg.Selection())
}

func (s *Service) Engine() *engine.Engine { return s.engine }

func (s *Service) Catalog() *rule.Catalog { return s.engine.Catalog() }

func (s *Service) History() *history.Store { return s.history }

func (s *Service) Outcomes() *metrics.Store { return s.outcomes }

func (s *Service) Storage() storage.Store { return s.store }

// Evaluate runs the catalog against src with the current preferences and hands the
// report to every configured consumer. A cancelled run still returns its partial
// report; it is recorded in memory but neither stored nor published. Delivery
// failures are joined into the returned error alongside a valid report.
func (s *Service) Evaluate(ctx context.Context, src recording.Source) (*model.Report, error) {
	prefs := s.cfg.Get().RulePreferences()
	rep, err := s.engine.Evaluate(ctx, src, prefs)
	if rep == nil {
		return nil, err
	}
	if s.history != nil {
		s.history.Add(rep)
	}
	if s.outcomes != nil {
		s.outcomes.Record(rep)
	}
	if err != nil {
		return rep, err
	}
	if s.logger != nil {
		s.logger.Info("report ready", "run_id", rep.RunID(), "recording", rep.Recording().Name, "worst", rep.Worst(), "results", rep.Len())
	}
	var errs []error
	if s.store != nil {
		if err := s.store.SaveReport(ctx, rep); err != nil {
			errs = append(errs, fmt.Errorf("store report: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, rep); err != nil {
			errs = append(errs, fmt.Errorf("publish report: %w", err))
		}
	}
	return rep, errors.Join(errs...)
}

// Clear drops the in-memory history and outcomes. Persisted reports are kept.
func (s *Service) Clear(target string) error {
	switch target {
	case "", "all":
		s.clearHistory()
		s.clearOutcomes()
	case "reports", "history":
		s.clearHistory()
	case "metrics", "outcomes":
		s.clearOutcomes()
	default:
		return fmt.Errorf("unknown clear target %q", target)
	}
	return nil
}

func (s *Service) clearHistory() {
	if s.history != nil {
		s.history.Clear()
	}
}

func (s *Service) clearOutcomes() {
	if s.outcomes != nil {
		s.outcomes.Clear()
	}
}

func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
