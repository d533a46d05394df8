package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"flightcheck/internal/config"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/report"
	"flightcheck/internal/service"
)

// ErrThreshold is returned when a report reaches the --fail-on severity.
var ErrThreshold = errors.New("severity threshold reached")

type evaluateFlags struct {
	format  string
	min     string
	failOn  string
	verbose bool
	run     bool
	workers int
	input   string
	name    string
	store   bool
	publish bool
	kafka   bool
	set     []string
}

func newEvaluateCommand(g *globals) *cobra.Command {
	f := &evaluateFlags{}
	cmd := &cobra.Command{
		Use:   "evaluate [recording...]",
		Short: "Evaluate the rule catalog against recordings",
		Long: `Evaluate reads each recording (JSON, JSON Lines or YAML; "-" for stdin) and
prints one report per recording. With --kafka the recording is consumed from the
configured source topic instead.`,
		Aliases: []string{"eval"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, g, f, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.format, "format", "f", "", "report format: text, json, yaml (default from config)")
	flags.StringVar(&f.min, "min", "", "hide results below this severity: ok, info, warning")
	flags.StringVar(&f.failOn, "fail-on", "", "exit non-zero when any result reaches this severity")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "include explanations, solutions and values in text output")
	flags.BoolVar(&f.run, "run", false, "include the run id and timestamp in the report")
	flags.IntVar(&f.workers, "workers", 0, "rules evaluated concurrently (default from config)")
	flags.StringVar(&f.input, "input", "", "recording format: auto, json, jsonl, yaml (default from config)")
	flags.StringVar(&f.name, "name", "", "recording name for stdin or kafka input")
	flags.BoolVar(&f.store, "store", false, "persist reports to the configured storage")
	flags.BoolVar(&f.publish, "publish", false, "publish reports to the configured sinks")
	flags.BoolVar(&f.kafka, "kafka", false, "consume the recording from the configured kafka source")
	flags.StringArrayVar(&f.set, "set", nil, "override a rule preference, key=value")
	return cmd
}

func runEvaluate(cmd *cobra.Command, g *globals, f *evaluateFlags, args []string) error {
	if len(args) == 0 && !f.kafka {
		return errors.New("at least one recording or --kafka required")
	}
	mgr, err := g.manager()
	if err != nil {
		return err
	}
	cfg, err := f.apply(mgr.Get())
	if err != nil {
		return err
	}
	opts, err := f.reportOptions(cfg)
	if err != nil {
		return err
	}
	failOn, err := config.ParseMinSeverity(f.failOn)
	if err != nil {
		return fmt.Errorf("--fail-on: %w", err)
	}
	input, err := recording.ParseFormat(cfg.Source.Format)
	if err != nil {
		return err
	}

	logger := g.logger(cmd, cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := service.Build(ctx, config.Static(cfg), nil, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var sources []*recording.Recording
	if f.kafka {
		rec, err := loadKafka(ctx, cfg, f.name, logger)
		if err != nil {
			return err
		}
		sources = append(sources, rec)
	}
	for _, path := range args {
		rec, err := loadRecording(cmd, path, recording.DecodeOptions{Name: f.name, Format: input, Location: cfg.Location()})
		if err != nil {
			return err
		}
		sources = append(sources, rec)
	}

	reports := make([]*model.Report, 0, len(sources))
	var errs []error
	for _, rec := range sources {
		rep, err := svc.Evaluate(ctx, rec)
		if rep == nil {
			return err
		}
		reports = append(reports, rep)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := report.Encode(cmd.OutOrStdout(), opts, reports...); err != nil {
		return err
	}
	if failOn != "" {
		for _, rep := range reports {
			if rep.Worst().AtLeast(failOn) {
				errs = append(errs, fmt.Errorf("%w: %s is %s", ErrThreshold, rep.Recording().Name, rep.Worst()))
			}
		}
	}
	return errors.Join(errs...)
}

// apply returns a copy of cfg with the command line overrides.
func (f *evaluateFlags) apply(base *config.Config) (*config.Config, error) {
	cfg := *base
	cfg.Preferences = make(map[string]any, len(base.Preferences)+len(f.set))
	for k, v := range base.Preferences {
		cfg.Preferences[k] = v
	}
	for _, kv := range f.set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		cfg.Preferences[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if f.workers > 0 {
		cfg.Engine.Workers = f.workers
	}
	if f.input != "" {
		cfg.Source.Format = f.input
	}
	cfg.Storage.Enabled = f.store
	if !f.publish {
		cfg.Sinks.Kafka.Enabled = false
		cfg.Sinks.NATS.Enabled = false
	}
	if f.kafka {
		cfg.Source.Kafka.Enabled = true
	}
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (f *evaluateFlags) reportOptions(cfg *config.Config) (report.Options, error) {
	format := cfg.Report.Format
	if f.format != "" {
		format = f.format
	}
	parsed, err := report.ParseFormat(format)
	if err != nil {
		return report.Options{}, err
	}
	minValue := cfg.Report.MinSeverity
	if f.min != "" {
		minValue = f.min
	}
	min, err := config.ParseMinSeverity(minValue)
	if err != nil {
		return report.Options{}, fmt.Errorf("--min: %w", err)
	}
	return report.Options{Format: parsed, MinSeverity: min, Verbose: f.verbose || cfg.Report.Verbose, Run: f.run}, nil
}

func loadRecording(cmd *cobra.Command, path string, opts recording.DecodeOptions) (*recording.Recording, error) {
	if path == "-" {
		if opts.Name == "" {
			opts.Name = "stdin"
		}
		return recording.Decode(cmd.InOrStdin(), opts)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return recording.LoadFile(path, opts)
}

func loadKafka(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*recording.Recording, error) {
	k := cfg.Source.Kafka
	return recording.LoadKafka(ctx, recording.KafkaOptions{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		GroupID:      k.GroupID,
		Name:         name,
		MaxEvents:    k.MaxEvents,
		IdleTimeout:  k.IdleTimeout,
		DedupeWindow: k.DedupeWindow,
		Location:     cfg.Location(),
	}, logger)
}
