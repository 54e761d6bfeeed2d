package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the experiment, resuming from the checkpoint if one exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeExperiment(false)
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted experiment from its checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeExperiment(true)
		},
	}
}

func executeExperiment(requireCheckpoint bool) error {
	h, err := openHarness(requireCheckpoint)
	if err != nil {
		return err
	}
	defer h.installInterruptHandler()()

	total := len(h.cfg.Trials())
	fmt.Printf("Experiment %q: %d trials across %d subtests, %d workers\n",
		h.cfg.Name, total, len(h.cfg.Subtests()), h.cfg.Workers)

	err = h.driver.Run(context.Background())
	switch {
	case err == nil:
		fmt.Printf("All %d trials complete. Summary at %s/summary.md\n", total, h.cfg.ResultsDir)
		return nil
	case errors.Is(err, domain.ErrShutdownRequested):
		snap := h.store.Snapshot()
		fmt.Printf("Interrupted: %d/%d trials completed. Run `gauntlet resume` to continue.\n",
			snap.CompletedCount(), total)
		return nil
	default:
		return err
	}
}
