package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-gauntlet/internal/application"
	"github.com/ahrav/go-gauntlet/internal/classify"
	"github.com/ahrav/go-gauntlet/internal/domain"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the on-disk status of every trial",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := application.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			classifier := classify.Classifier{
				Fs:     afero.NewOsFs(),
				Layout: domain.Layout{Root: cfg.ResultsDir},
			}
			rows := classifier.Table(cfg.Trials(), len(cfg.Judges))
			printClassification(os.Stdout, rows)

			counts := map[domain.TrialStatus]int{}
			for _, row := range rows {
				counts[row.Status]++
			}
			fmt.Printf("\n%d trials: %d completed, %d results, %d failed, %d partial, %d missing\n",
				len(rows),
				counts[domain.TrialCompleted], counts[domain.TrialResults],
				counts[domain.TrialFailed], counts[domain.TrialPartial], counts[domain.TrialMissing])
			return nil
		},
	}
}

func printClassification(out *os.File, rows []classify.TrialClassification) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tSTATUS\tJUDGES")
	for _, row := range rows {
		judges := ""
		for i, s := range row.Judges {
			if i > 0 {
				judges += " "
			}
			judges += string(s)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.Trial, row.Status, judges)
	}
	w.Flush()
}
