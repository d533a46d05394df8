package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"flightcheck/internal/api"
	"flightcheck/internal/config"
	"flightcheck/internal/ingest"
	"flightcheck/internal/service"
)

func newServeCommand(g *globals, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured recording sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, g, version)
		},
	}
}

func runServe(cmd *cobra.Command, g *globals, version string) error {
	mgr, err := g.manager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	if !cfg.API.Enabled && !cfg.Source.Kafka.Enabled && !cfg.Source.Spool.Enabled {
		return errors.New("nothing to serve: enable api, source.kafka or source.spool")
	}
	logger := g.logger(cmd, cfg)
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc, err := service.Build(ctx, mgr, reg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	logger.Info("flightcheck starting", "version", version, "rules", svc.Catalog().Len(), "workers", svc.Engine().Workers())

	api.Start(ctx, mgr, svc, reg, logger, version)

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second, func(*config.Config) {
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		}, ctx.Done())
	}
	ingest.StartKafka(ctx, mgr, svc, logger)
	ingest.StartSpool(ctx, mgr, svc, logger)

	<-ctx.Done()
	logger.Info("flightcheck stopping")
	return nil
}
