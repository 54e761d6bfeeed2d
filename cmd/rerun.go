package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-gauntlet/internal/classify"
	"github.com/ahrav/go-gauntlet/internal/domain"
)

var (
	flagRerunTier    string
	flagRerunSubtest string
	flagRerunRun     int
	flagRerunStatus  string
	flagJudgesOnly   bool
	flagDryRun       bool
)

func newRerunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rerun",
		Short: "Selectively re-execute failed trials or judge slots",
		Long: `Rerun classifies every selected trial from its on-disk artifacts and
re-executes only what is broken. Trials holding good agent output
(COMPLETED, RESULTS) are never re-run in full; use --judges to repair
their failed or missing judge slots instead. Invalidated run
directories are archived under .failed/, never deleted.`,
		RunE: runRerun,
	}
	cmd.Flags().StringVar(&flagRerunTier, "tier", "", "restrict to one tier")
	cmd.Flags().StringVar(&flagRerunSubtest, "subtest", "", "restrict to one subtest")
	cmd.Flags().IntVar(&flagRerunRun, "run", 0, "restrict to one run number")
	cmd.Flags().StringVar(&flagRerunStatus, "status", "", "restrict to one trial status (FAILED, PARTIAL, MISSING)")
	cmd.Flags().BoolVar(&flagJudgesOnly, "judges", false, "re-judge failed/missing judge slots instead of re-running agents")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "print the classification table and planned actions without executing")
	return cmd
}

func runRerun(cmd *cobra.Command, args []string) error {
	h, err := openHarness(false)
	if err != nil {
		return err
	}

	classifier := classify.Classifier{Fs: afero.NewOsFs(), Layout: h.engine.Layout()}
	trials := selectTrials(h)
	rows := classifier.Table(trials, len(h.cfg.Judges))
	if flagRerunStatus != "" {
		rows = filterByStatus(rows, domain.TrialStatus(flagRerunStatus))
	}

	printClassification(os.Stdout, rows)
	if flagDryRun {
		fmt.Printf("\ndry run: %d trials selected, nothing executed\n", len(rows))
		return nil
	}

	defer h.installInterruptHandler()()

	var failures int
	for _, row := range rows {
		var err error
		if flagJudgesOnly {
			err = rerunJudgeSlots(h, classifier, row.Trial)
		} else {
			err = rerunTrial(h, classifier, row.Trial)
		}
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "rerun %s: %v\n", row.Trial, err)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d reruns failed", failures, len(rows))
	}
	fmt.Printf("%d reruns completed\n", len(rows))
	return nil
}

// selectTrials applies the tier/subtest/run filters to the experiment's
// trial list.
func selectTrials(h *harness) []domain.TrialID {
	var out []domain.TrialID
	for _, id := range h.cfg.Trials() {
		if flagRerunTier != "" && id.Tier != flagRerunTier {
			continue
		}
		if flagRerunSubtest != "" && id.Subtest != flagRerunSubtest {
			continue
		}
		if flagRerunRun > 0 && id.Run != flagRerunRun {
			continue
		}
		out = append(out, id)
	}
	return out
}

func filterByStatus(rows []classify.TrialClassification, status domain.TrialStatus) []classify.TrialClassification {
	var out []classify.TrialClassification
	for _, row := range rows {
		if row.Status == status {
			out = append(out, row)
		}
	}
	return out
}

// rerunTrial archives the broken run directory and re-executes the trial
// from scratch. Trials with recoverable agent output are a logged no-op.
func rerunTrial(h *harness, classifier classify.Classifier, id domain.TrialID) error {
	status := classifier.ClassifyTrial(id)
	if !status.RerunsAgent() {
		return nil
	}

	archived, err := classifier.PrepareAgentRerun(id)
	if err != nil {
		return err
	}
	if archived != "" {
		fmt.Printf("archived %s to %s\n", id, archived)
	}
	if err := h.store.Unmark(id); err != nil {
		return err
	}

	rc, err := h.engine.NewRunContext(id)
	if err != nil {
		return err
	}
	return h.engine.AdvanceToCompletion(context.Background(), rc)
}

// rerunJudgeSlots repairs a judgeable trial's broken judge slots without
// touching its agent artifacts. Derived records (consensus, final
// result, reports) are pruned so the state machine regenerates them
// from the repaired slots.
func rerunJudgeSlots(h *harness, classifier classify.Classifier, id domain.TrialID) error {
	slots := classifier.JudgeRerunSlots(id, len(h.cfg.Judges))
	if len(slots) == 0 {
		return nil
	}
	fmt.Printf("re-judging %s slots %v\n", id, slots)

	layout := h.engine.Layout()
	for _, slot := range slots {
		os.Remove(layout.JudgeSlotPath(id, slot, domain.JudgeStderrFile))
	}
	for _, stale := range []string{
		layout.ConsensusPath(id),
		layout.RunResultPath(id),
		layout.RunPath(id, domain.ReportMDFile),
		layout.RunPath(id, domain.ReportJSONFile),
	} {
		os.Remove(stale)
	}
	if err := h.store.Unmark(id); err != nil {
		return err
	}

	rc, err := h.engine.NewRunContext(id)
	if err != nil {
		return err
	}
	return h.engine.AdvanceToCompletion(context.Background(), rc)
}
