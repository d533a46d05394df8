// Package cli implements the flightcheck command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"flightcheck/internal/config"
	"flightcheck/internal/logging"
)

type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

func NewRootCommand(version string) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "flightcheck",
		Short: "Rule based diagnostics for flight recordings",
		Long: `flightcheck evaluates a catalog of diagnostic rules against a recording of
runtime events and reports a severity-scored verdict per rule.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format override: json, text")

	root.AddCommand(
		newEvaluateCommand(g),
		newRulesCommand(g),
		newServeCommand(g, version),
		newVersionCommand(version),
	)
	return root
}

// manager loads the config file when one is given, otherwise the defaults.
func (g *globals) manager() (*config.Manager, error) {
	if g.configPath == "" {
		return config.Static(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(g.configPath))
}

// logger writes to the command's stderr so reports on stdout stay parseable.
func (g *globals) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level, format := cfg.LogLevel, cfg.LogFormat
	if g.logLevel != "" {
		level = g.logLevel
	}
	if g.logFormat != "" {
		format = g.logFormat
	}
	return logging.New(cmd.ErrOrStderr(), level, format)
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}
