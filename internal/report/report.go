// Package report renders the human-facing artifacts of a trial: the
// judge prompt handed to every judge slot, the per-run markdown and JSON
// reports, and the experiment-wide summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// maxDiffChars bounds how much of the diff is embedded in the judge
// prompt before truncation. Large diffs blow past judge context windows.
const maxDiffChars = 120_000

// JudgePromptInput collects everything the judge prompt template needs.
type JudgePromptInput struct {
	// Task is the original task prompt the agent received.
	Task string

	// Diff is the captured workspace diff.
	Diff *domain.CapturedDiff

	// Pipeline is the post-agent validation result.
	Pipeline *domain.PipelineResult

	// Baseline is the pristine-workspace validation result, so judges can
	// distinguish pre-existing failures from agent-introduced ones.
	Baseline *domain.PipelineResult

	// Rubric is the optional subtest-specific grading rubric.
	Rubric string
}

// RenderJudgePrompt assembles the complete judge prompt. The output is
// deterministic for a given input so resumed trials reuse the persisted
// copy byte for byte.
func RenderJudgePrompt(in JudgePromptInput) string {
	var b strings.Builder

	b.WriteString("# Evaluation Request\n\n")
	b.WriteString("You are grading the work of an AI coding agent. ")
	b.WriteString("Respond with a single JSON object of the form ")
	b.WriteString(`{"score": <0.0-1.0>, "passed": <bool>, "reasoning": "<string>", "criteria_scores": {<string>: <0.0-1.0>}}.`)
	b.WriteString("\n\n## Task Given to the Agent\n\n")
	b.WriteString(strings.TrimSpace(in.Task))
	b.WriteString("\n")

	if in.Rubric != "" {
		b.WriteString("\n## Grading Rubric\n\n")
		b.WriteString(strings.TrimSpace(in.Rubric))
		b.WriteString("\n")
	}

	b.WriteString("\n## Validation Pipeline\n\n")
	writePipelineSection(&b, "After agent", in.Pipeline)
	writePipelineSection(&b, "Baseline (before agent)", in.Baseline)

	b.WriteString("\n## Agent's Changes\n\n")
	if in.Diff == nil || strings.TrimSpace(in.Diff.Diff) == "" {
		b.WriteString("The agent made no changes to the workspace.\n")
		return b.String()
	}

	if len(in.Diff.DeletedFiles) > 0 {
		b.WriteString("Deleted files:\n")
		for _, f := range in.Diff.DeletedFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		b.WriteString("\n")
	}

	diff := in.Diff.Diff
	truncated := false
	if len(diff) > maxDiffChars {
		diff = diff[:maxDiffChars]
		truncated = true
	}
	b.WriteString("```diff\n")
	b.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	if truncated {
		fmt.Fprintf(&b, "\n(diff truncated at %d characters)\n", maxDiffChars)
	}
	return b.String()
}

func writePipelineSection(b *strings.Builder, label string, p *domain.PipelineResult) {
	if p == nil {
		fmt.Fprintf(b, "%s: not captured\n", label)
		return
	}
	fmt.Fprintf(b, "%s: build=%s format=%s tests=%s\n",
		label, passFail(p.BuildPassed), passFail(p.FormatPassed), passFail(p.TestPassed))
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// WriteTrialReports renders the per-run report.md and report.json next
// to the run result.
func WriteTrialReports(layout domain.Layout, result domain.RunResult) error {
	md := renderTrialMarkdown(result)
	if err := writeFile(layout.RunPath(result.Trial, domain.ReportMDFile), []byte(md)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(trialReportJSON(result), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trial report: %w", err)
	}
	return writeFile(layout.RunPath(result.Trial, domain.ReportJSONFile), append(data, '\n'))
}

func renderTrialMarkdown(r domain.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trial %s\n\n", r.Trial)

	verdict := "FAILED"
	if r.Passed {
		verdict = "PASSED"
	}
	fmt.Fprintf(&b, "**Verdict:** %s", verdict)
	if r.Consensus.Score != nil {
		fmt.Fprintf(&b, " (score %.3f, grade %s)", *r.Consensus.Score, r.Consensus.Grade)
	}
	b.WriteString("\n\n")

	b.WriteString("## Agent\n\n")
	fmt.Fprintf(&b, "- Exit code: %d\n", r.Agent.ExitCode)
	fmt.Fprintf(&b, "- Duration: %.1fs\n", r.Agent.DurationS)
	fmt.Fprintf(&b, "- Tokens: %d in / %d out\n", r.Agent.Tokens.Input, r.Agent.Tokens.Output)
	fmt.Fprintf(&b, "- Cost: $%.4f\n", r.Agent.CostUSD)
	if r.Agent.TimedOut {
		b.WriteString("- Timed out\n")
	}
	if r.Agent.ErrorMessage != "" {
		fmt.Fprintf(&b, "- Error: %s\n", r.Agent.ErrorMessage)
	}

	b.WriteString("\n## Validation\n\n")
	fmt.Fprintf(&b, "| Check | Baseline | After agent |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| Build | %s | %s |\n", passFail(r.Baseline.BuildPassed), passFail(r.Pipeline.BuildPassed))
	fmt.Fprintf(&b, "| Format | %s | %s |\n", passFail(r.Baseline.FormatPassed), passFail(r.Pipeline.FormatPassed))
	fmt.Fprintf(&b, "| Tests | %s | %s |\n", passFail(r.Baseline.TestPassed), passFail(r.Pipeline.TestPassed))

	b.WriteString("\n## Judges\n\n")
	for _, j := range r.Judges {
		score := "n/a"
		if j.Score != nil {
			score = fmt.Sprintf("%.3f", *j.Score)
		}
		status := "valid"
		if !j.IsValid {
			status = "invalid"
		}
		fmt.Fprintf(&b, "- Judge %d (%s): score %s, grade %s, %s\n", j.JudgeNumber, j.Model, score, j.Grade, status)
	}

	if r.Consensus.Reasoning != "" {
		b.WriteString("\n## Consensus Reasoning\n\n")
		b.WriteString(strings.TrimSpace(r.Consensus.Reasoning))
		b.WriteString("\n")
	}
	return b.String()
}

func trialReportJSON(r domain.RunResult) map[string]any {
	out := map[string]any{
		"trial":        r.Trial.String(),
		"passed":       r.Passed,
		"grade":        r.Consensus.Grade,
		"cost_usd":     r.CostUSD,
		"tokens":       r.Tokens,
		"agent_exit":   r.Agent.ExitCode,
		"timed_out":    r.Agent.TimedOut,
		"all_passed":   r.Pipeline.AllPassed,
		"judge_count":  len(r.Judges),
		"completed_at": r.CompletedAt,
	}
	if r.Consensus.Score != nil {
		out["score"] = *r.Consensus.Score
	}
	return out
}

// SubtestSummary aggregates the runs of one subtest for the experiment
// summary.
type SubtestSummary struct {
	Tier      string   `json:"tier"`
	Subtest   string   `json:"subtest"`
	Runs      int      `json:"runs"`
	Passed    int      `json:"passed"`
	MeanScore *float64 `json:"mean_score,omitempty"`
	BestScore *float64 `json:"best_score,omitempty"`
	CostUSD   float64  `json:"cost_usd"`
}

// Summarize folds run results into per-subtest rows, ordered by tier
// then subtest.
func Summarize(results []domain.RunResult) []SubtestSummary {
	type key struct{ tier, subtest string }
	rows := make(map[key]*SubtestSummary)

	for _, r := range results {
		k := key{r.Trial.Tier, r.Trial.Subtest}
		row, ok := rows[k]
		if !ok {
			row = &SubtestSummary{Tier: k.tier, Subtest: k.subtest}
			rows[k] = row
		}
		row.Runs++
		if r.Passed {
			row.Passed++
		}
		row.CostUSD += r.CostUSD
		if r.Consensus.Score != nil {
			s := *r.Consensus.Score
			if row.MeanScore == nil {
				row.MeanScore = new(float64)
			}
			*row.MeanScore += s
			if row.BestScore == nil || s > *row.BestScore {
				best := s
				row.BestScore = &best
			}
		}
	}

	var out []SubtestSummary
	for _, row := range rows {
		if row.MeanScore != nil {
			*row.MeanScore /= float64(row.Runs)
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Subtest < out[j].Subtest
	})
	return out
}

// WriteExperimentSummary renders the experiment-level summary.md and
// summary.json at the results root.
func WriteExperimentSummary(layout domain.Layout, name string, results []domain.RunResult) error {
	rows := Summarize(results)

	var b strings.Builder
	fmt.Fprintf(&b, "# Experiment %s\n\n", name)
	b.WriteString("| Tier | Subtest | Passed | Mean | Best | Cost |\n|---|---|---|---|---|---|\n")
	totalCost := 0.0
	for _, row := range rows {
		mean, best := "n/a", "n/a"
		if row.MeanScore != nil {
			mean = fmt.Sprintf("%.3f", *row.MeanScore)
		}
		if row.BestScore != nil {
			best = fmt.Sprintf("%.3f", *row.BestScore)
		}
		fmt.Fprintf(&b, "| %s | %s | %d/%d | %s | %s | $%.2f |\n",
			row.Tier, row.Subtest, row.Passed, row.Runs, mean, best, row.CostUSD)
		totalCost += row.CostUSD
	}
	fmt.Fprintf(&b, "\nTotal cost: $%.2f across %d runs.\n", totalCost, len(results))

	if err := writeFile(filepath.Join(layout.Root, "summary.md"), []byte(b.String())); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return writeFile(filepath.Join(layout.Root, "summary.json"), append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", tmp, err)
	}
	return nil
}
