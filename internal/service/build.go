package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"flightcheck/internal/config"
	"flightcheck/internal/engine"
	"flightcheck/internal/history"
	"flightcheck/internal/metrics"
	"flightcheck/internal/sink"
	"flightcheck/internal/storage"
)

// Build constructs a service from the manager's current config. Prometheus
// instruments are registered on reg when it is non-nil.
func Build(ctx context.Context, mgr *config.Manager, reg prometheus.Registerer, logger *slog.Logger) (*Service, error) {
	cfg := mgr.Get()
	catalog, err := BuildCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("rule catalog: %w", err)
	}
	opts := []engine.Option{
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithRuleTimeout(cfg.Engine.RuleTimeout),
		engine.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, engine.WithMetrics(metrics.NewCollector(reg)))
	}
	eng, err := engine.New(catalog, opts...)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("storage init: %w", err)
		}
		if logger != nil {
			logger.Info("report storage enabled", "driver", cfg.Storage.Driver)
		}
	}

	dispatcher, err := buildSinks(cfg, logger)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	svcOpts := Options{
		Config:   mgr,
		Engine:   eng,
		History:  history.NewStore(cfg.History.StoreLimit),
		Outcomes: metrics.NewStore(cfg.Metrics.StoreLimit),
		Store:    store,
		Logger:   logger,
	}
	if dispatcher != nil {
		svcOpts.Publisher = dispatcher
	}
	return New(svcOpts)
}

func buildSinks(cfg *config.Config, logger *slog.Logger) (*sink.Dispatcher, error) {
	var publishers []sink.Publisher
	if cfg.Sinks.Kafka.Enabled {
		p, err := sink.NewKafka(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}
	if cfg.Sinks.NATS.Enabled {
		p, err := sink.NewNATS(cfg.Sinks.NATS.URL, cfg.Sinks.NATS.Subject, logger)
		if err != nil {
			return nil, errors.Join(err, closeAll(publishers))
		}
		publishers = append(publishers, p)
	}
	if len(publishers) == 0 {
		return nil, nil
	}
	min, err := config.ParseMinSeverity(cfg.Sinks.MinSeverity)
	if err != nil {
		return nil, errors.Join(err, closeAll(publishers))
	}
	if logger != nil {
		for _, p := range publishers {
			logger.Info("report sink enabled", "sink", p.Name())
		}
	}
	return sink.NewDispatcher(logger, min, cfg.Sinks.Cooldown, publishers...), nil
}

func closeAll(publishers []sink.Publisher) error {
	var errs []error
	for _, p := range publishers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
