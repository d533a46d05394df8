package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"flightcheck/internal/rule"
	"flightcheck/internal/service"
)

func newRulesCommand(g *globals) *cobra.Command {
	var format, topic string
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"ls"},
		Short:   "List the rule catalog with preferences and results",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := g.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			catalog, err := service.BuildCatalog(cfg)
			if err != nil {
				return err
			}
			infos := service.DescribeRules(catalog, cfg.RulePreferences())
			if topic != "" {
				filtered := infos[:0]
				for _, info := range infos {
					if strings.EqualFold(info.Topic, topic) {
						filtered = append(filtered, info)
					}
				}
				infos = filtered
			}
			return writeRules(cmd.OutOrStdout(), format, infos)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, yaml")
	cmd.Flags().StringVar(&topic, "topic", "", "only list rules of this topic")
	return cmd
}

func writeRules(w io.Writer, format string, infos []service.RuleInfo) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, info := range infos {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\t%s\t[%s]\n", info.ID, info.Name, info.Topic)
		for _, req := range info.Requires {
			fmt.Fprintf(tw, "  requires\t%s\t%s\n", req.TypeID, req.Level)
		}
		for _, dep := range info.DependsOn {
			min := "any"
			if dep.MinSeverity != "" {
				min = string(dep.MinSeverity)
			}
			fmt.Fprintf(tw, "  depends on\t%s\t>= %s\n", dep.RuleID, min)
		}
		for _, p := range info.Preferences {
			fmt.Fprintf(tw, "  preference\t%s = %s\t%s\n", p.Key, rule.FormatValue(p.Kind, p.Value), p.Name)
		}
		for _, r := range info.Results {
			fmt.Fprintf(tw, "  result\t%s\t%s\n", r.Key, r.Name)
		}
		if info.Error != "" {
			fmt.Fprintf(tw, "  error\t%s\t\n", info.Error)
		}
	}
	return tw.Flush()
}
