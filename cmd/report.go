package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-gauntlet/internal/application"
	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/report"
)

var flagReportFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerate the experiment summary from stored run results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := application.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			layout := domain.Layout{Root: cfg.ResultsDir}

			var results []domain.RunResult
			for _, id := range cfg.Trials() {
				data, err := os.ReadFile(layout.RunResultPath(id))
				if err != nil {
					continue
				}
				var result domain.RunResult
				if err := json.Unmarshal(data, &result); err != nil {
					fmt.Fprintf(os.Stderr, "skipping corrupt result for %s: %v\n", id, err)
					continue
				}
				results = append(results, result)
			}

			if flagReportFormat == "json" {
				rows := report.Summarize(results)
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			if err := report.WriteExperimentSummary(layout, cfg.Name, results); err != nil {
				return err
			}
			summary, err := os.ReadFile(layout.Root + "/summary.md")
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(summary)
			return err
		},
	}
	cmd.Flags().StringVar(&flagReportFormat, "format", "markdown", "output format (markdown, json)")
	return cmd
}
