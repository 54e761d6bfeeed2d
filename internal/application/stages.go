package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
	"github.com/ahrav/go-gauntlet/internal/ratelimit"
	"github.com/ahrav/go-gauntlet/internal/report"
)

// Run-level artifacts produced by stages beyond the canonical set.
const (
	diffPatchFile      = "diff.patch"
	diffJSONFile       = "diff.json"
	pipelineResultFile = "pipeline_result.json"
)

// stageCreateDirs creates the run directory tree. Idempotent mkdir.
func (e *Engine) stageCreateDirs(_ context.Context, rc *RunContext) error {
	for _, dir := range []string{
		e.layout.RunDir(rc.ID),
		e.layout.AgentDir(rc.ID),
		e.layout.JudgeDir(rc.ID),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// stageCreateWorktree materializes the isolated workspace at the pinned
// base commit. An existing workspace is preserved, and a trial already
// marked passed in the checkpoint is never re-cloned.
func (e *Engine) stageCreateWorktree(ctx context.Context, rc *RunContext) error {
	dest := e.layout.WorkspaceDir(rc.ID)
	if dirExists(dest) {
		return nil
	}
	if done, passed := e.checkpoint.IsCompleted(rc.ID); done && passed {
		// Passed trials release their workspace at checkpoint time;
		// nothing to recreate.
		return nil
	}
	return e.workspace.CreateWorktree(ctx, dest, rc.Branch, e.cfg.BaseCommit)
}

// stageApplyOverlays places tier resources into the workspace. For
// delegation subtests it additionally seeds the workspace with the best
// runs of the referenced lower-tier subtests.
func (e *Engine) stageApplyOverlays(ctx context.Context, rc *RunContext) error {
	ws := e.layout.WorkspaceDir(rc.ID)
	if !dirExists(ws) {
		return nil
	}

	for _, overlay := range rc.Subtest.Overlays {
		dest := filepath.Join(ws, overlay.Dest)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating overlay parent for %s: %w", dest, err)
		}
		if overlay.Symlink {
			if err := symlinkOrCopy(overlay.Source, dest); err != nil {
				return fmt.Errorf("applying overlay %s: %w", overlay.Dest, err)
			}
			continue
		}
		if err := copyPath(overlay.Source, dest); err != nil {
			return fmt.Errorf("applying overlay %s: %w", overlay.Dest, err)
		}
	}

	for _, ref := range rc.Subtest.DelegatesTo {
		patch, err := e.bestRunPatch(ref)
		if err != nil {
			return fmt.Errorf("resolving delegated baseline %s: %w", ref, err)
		}
		if patch == "" {
			log.Printf("trial %s: no completed run found for delegated subtest %s", rc.ID, ref)
			continue
		}
		if err := e.workspace.ApplyPatch(ctx, ws, patch); err != nil {
			return fmt.Errorf("applying delegated baseline %s: %w", ref, err)
		}
	}
	return nil
}

// bestRunPatch locates the diff of the highest-scoring completed run of
// a "tier/subtest" reference.
func (e *Engine) bestRunPatch(ref string) (string, error) {
	tierID, subtestID, ok := splitSubtestRef(ref)
	if !ok {
		return "", fmt.Errorf("malformed subtest reference %q", ref)
	}

	bestScore := -1.0
	bestPatch := ""
	for run := 1; run <= e.cfg.RunsPerSubtest; run++ {
		id := domain.TrialID{Tier: tierID, Subtest: subtestID, Run: run}
		result, err := readJSONFile[domain.RunResult](e.layout.RunResultPath(id))
		if err != nil {
			continue
		}
		if result.Consensus.Score == nil || *result.Consensus.Score <= bestScore {
			continue
		}
		patch := e.layout.RunPath(id, diffPatchFile)
		if fileNonEmpty(patch) {
			bestScore = *result.Consensus.Score
			bestPatch = patch
		}
	}
	return bestPatch, nil
}

// stageCommitOverlays commits the overlay files into workspace history
// so the agent treats them as pre-existing state, not its own edits.
func (e *Engine) stageCommitOverlays(ctx context.Context, rc *RunContext) error {
	ws := e.layout.WorkspaceDir(rc.ID)
	if !dirExists(ws) {
		return nil
	}
	return e.workspace.CommitAll(ctx, ws, "seed tier resources")
}

// stageCaptureBaseline snapshots the pristine workspace's build/lint/
// test results, exactly once per subtest. Trials of one subtest run
// sequentially on one worker, so the cache file needs no lock.
func (e *Engine) stageCaptureBaseline(ctx context.Context, rc *RunContext) error {
	cache := e.layout.BaselineCachePath(rc.ID)
	if baseline, err := readJSONFile[domain.PipelineResult](cache); err == nil {
		rc.Baseline = &baseline
		return nil
	}

	ws := e.layout.WorkspaceDir(rc.ID)
	baseline, err := e.pipeline.Run(ctx, ws, e.cfg.Language)
	if err != nil {
		return fmt.Errorf("capturing baseline: %w", err)
	}
	rc.Baseline = &baseline
	return writeJSONAtomic(cache, baseline)
}

// stageWritePrompt materializes the task prompt: one shared copy at the
// subtest level, a symlink (copy fallback) in the run directory, and
// the agent-facing prompt file.
func (e *Engine) stageWritePrompt(_ context.Context, rc *RunContext) error {
	shared := e.layout.TaskPromptSharePath(rc.ID.Tier, rc.ID.Subtest)
	if !fileNonEmpty(shared) {
		if err := copyPath(rc.Subtest.PromptPath, shared); err != nil {
			return fmt.Errorf("sharing task prompt: %w", err)
		}
	}

	runCopy := e.layout.RunPath(rc.ID, domain.TaskPromptFile)
	if !fileExists(runCopy) {
		if err := symlinkOrCopy(filepath.Join("..", domain.TaskPromptFile), runCopy); err != nil {
			return fmt.Errorf("linking task prompt: %w", err)
		}
	}

	agentPrompt := e.layout.AgentPath(rc.ID, domain.AgentPromptFile)
	if !fileNonEmpty(agentPrompt) {
		if err := copyPath(shared, agentPrompt); err != nil {
			return fmt.Errorf("writing agent prompt: %w", err)
		}
	}
	return nil
}

// stageGenerateReplay persists the exact agent invocation as a
// reproducible script before execution.
func (e *Engine) stageGenerateReplay(_ context.Context, rc *RunContext) error {
	script := e.agent.ReplayScript(e.agentInvocation(rc))
	return writeFileAtomic(e.layout.AgentPath(rc.ID, domain.AgentReplayFile), []byte(script), 0o755)
}

func (e *Engine) agentInvocation(rc *RunContext) ports.AgentInvocation {
	return ports.AgentInvocation{
		WorkspaceDir:   e.layout.WorkspaceDir(rc.ID),
		PromptPath:     e.layout.AgentPath(rc.ID, domain.AgentPromptFile),
		OutputDir:      e.layout.AgentDir(rc.ID),
		Model:          e.cfg.Agent.Model,
		TimeoutSeconds: e.cfg.Agent.TimeoutSeconds,
	}
}

// stageRunAgent executes the external agent, or loads a prior valid
// result instead of paying for a second invocation. Agent crashes and
// timeouts become failure results so diagnostics are still captured;
// rate-limit evidence propagates before any result is persisted, so the
// retry after resume re-invokes the agent.
func (e *Engine) stageRunAgent(ctx context.Context, rc *RunContext) error {
	resultPath := e.layout.AgentPath(rc.ID, domain.AgentResultFile)
	if prior, err := readJSONFile[domain.AgentResult](resultPath); err == nil {
		rc.AgentRes = &prior
		rc.AgentReran = false
		return nil
	}

	inv := e.agentInvocation(rc)
	started := time.Now()
	result, err := e.agent.Run(ctx, inv)
	if err != nil {
		// Expected failure modes of the thing under test are data. The
		// runner hands back whatever output it captured before failing,
		// so rate-limit evidence in a timed-out run still surfaces below.
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
		if errors.Is(err, domain.ErrAgentTimeout) {
			result.TimedOut = true
		}
		if result.ErrorMessage == "" {
			result.ErrorMessage = err.Error()
		}
		if result.DurationS == 0 {
			result.DurationS = time.Since(started).Seconds()
		}
	}

	// Logs are written unconditionally so FAILED trials keep their trail.
	if err := writeFileAtomic(e.layout.AgentPath(rc.ID, domain.AgentStdoutFile), []byte(result.Stdout), 0o644); err != nil {
		return err
	}
	if err := writeFileAtomic(e.layout.AgentPath(rc.ID, domain.AgentStderrFile), []byte(result.Stderr), 0o644); err != nil {
		return err
	}

	if info, limited := ratelimit.Detect(result.Stdout, result.Stderr, domain.SourceAgent); limited {
		return domain.NewRateLimitError(info)
	}

	if err := writeFileAtomic(e.layout.AgentPath(rc.ID, domain.AgentOutputFile), []byte(result.Stdout), 0o644); err != nil {
		return err
	}
	if err := writeJSONAtomic(e.layout.AgentPath(rc.ID, domain.AgentTimingFile), map[string]any{
		"started_at":  started.UTC(),
		"finished_at": started.Add(time.Duration(result.DurationS * float64(time.Second))).UTC(),
		"duration_s":  result.DurationS,
	}); err != nil {
		return err
	}
	if err := writeJSONAtomic(e.layout.AgentPath(rc.ID, domain.AgentCommandLogFile), []map[string]any{{
		"command":   e.agent.ReplayScript(inv),
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
	}}); err != nil {
		return err
	}
	if err := writeFileAtomic(e.layout.AgentPath(rc.ID, domain.AgentModelFile), []byte(e.cfg.Agent.Model+"\n"), 0o644); err != nil {
		return err
	}
	if err := writeJSONAtomic(resultPath, result); err != nil {
		return err
	}

	rc.AgentRes = &result
	rc.AgentReran = true
	return nil
}

// stageCaptureDiff collects the workspace changes. A persisted diff is
// only considered stale when the agent actually re-ran in this process;
// otherwise the prior capture is loaded.
func (e *Engine) stageCaptureDiff(ctx context.Context, rc *RunContext) error {
	diffPath := e.layout.RunPath(rc.ID, diffJSONFile)

	if !rc.AgentReran {
		if prior, err := readJSONFile[domain.CapturedDiff](diffPath); err == nil {
			rc.Diff = &prior
			return nil
		}
	}

	ws := e.layout.WorkspaceDir(rc.ID)
	diff, err := e.workspace.CaptureDiff(ctx, ws)
	if err != nil {
		return fmt.Errorf("capturing diff: %w", err)
	}
	rc.Diff = &diff

	if err := writeFileAtomic(e.layout.RunPath(rc.ID, diffPatchFile), []byte(diff.Diff), 0o644); err != nil {
		return err
	}
	return writeJSONAtomic(diffPath, diff)
}

// stageRunPipeline re-runs the validation pipeline on the agent-modified
// workspace.
func (e *Engine) stageRunPipeline(ctx context.Context, rc *RunContext) error {
	path := e.layout.RunPath(rc.ID, pipelineResultFile)
	if prior, err := readJSONFile[domain.PipelineResult](path); err == nil && !rc.AgentReran {
		rc.PipelineRes = &prior
		return nil
	}

	result, err := e.pipeline.Run(ctx, e.layout.WorkspaceDir(rc.ID), e.cfg.Language)
	if err != nil {
		return fmt.Errorf("running validation pipeline: %w", err)
	}
	rc.PipelineRes = &result
	return writeJSONAtomic(path, result)
}

// stageBuildJudgePrompt assembles the full judge prompt and persists it
// once, shared by every judge slot of the trial.
func (e *Engine) stageBuildJudgePrompt(_ context.Context, rc *RunContext) error {
	path := e.layout.RunPath(rc.ID, domain.JudgePromptFile)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 && !rc.AgentReran {
		rc.JudgePrompt = string(data)
		return nil
	}

	task, err := os.ReadFile(e.layout.TaskPromptSharePath(rc.ID.Tier, rc.ID.Subtest))
	if err != nil {
		return fmt.Errorf("reading task prompt: %w", err)
	}

	var rubric []byte
	if rc.Subtest.RubricPath != "" {
		rubric, err = os.ReadFile(rc.Subtest.RubricPath)
		if err != nil {
			return fmt.Errorf("reading rubric: %w", err)
		}
	}

	prompt := report.RenderJudgePrompt(report.JudgePromptInput{
		Task:     string(task),
		Diff:     rc.Diff,
		Pipeline: rc.PipelineRes,
		Baseline: rc.Baseline,
		Rubric:   string(rubric),
	})
	rc.JudgePrompt = prompt
	return writeFileAtomic(path, []byte(prompt), 0o644)
}

// stageRunJudges invokes every configured judge slot, tolerating
// individual judge failures; only rate limiting aborts the stage.
func (e *Engine) stageRunJudges(ctx context.Context, rc *RunContext) error {
	ws := e.layout.WorkspaceDir(rc.ID)
	rc.JudgeResults = rc.JudgeResults[:0]

	for slot := 1; slot <= len(e.cfg.Judges); slot++ {
		judge := e.cfg.Judges[slot-1]

		if !rc.AgentReran {
			path := e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeJudgmentFile)
			if prior, err := readJSONFile[domain.JudgeResultSummary](path); err == nil {
				rc.JudgeResults = append(rc.JudgeResults, prior)
				continue
			}
		}

		summary, err := e.runJudgeSlot(ctx, rc, ws, judge, slot)
		if err != nil {
			return err
		}
		rc.JudgeResults = append(rc.JudgeResults, summary)
	}

	consensus := domain.Consensus(rc.JudgeResults)
	rc.ConsensusRes = &consensus
	return writeJSONAtomic(e.layout.ConsensusPath(rc.ID), consensus)
}

// runJudgeSlot executes one judge invocation and persists its artifacts.
// Judge failures become invalid summaries; rate limiting propagates.
func (e *Engine) runJudgeSlot(ctx context.Context, rc *RunContext, ws string, judge JudgeConfig, slot int) (domain.JudgeResultSummary, error) {
	if err := os.MkdirAll(e.layout.JudgeSlotDir(rc.ID, slot), 0o755); err != nil {
		return domain.JudgeResultSummary{}, err
	}

	started := time.Now()
	judgment, err := e.judges.Judge(ctx, ws, rc.JudgePrompt, judge.Model)
	if err != nil {
		if rle, ok := domain.AsRateLimit(err); ok {
			return domain.JudgeResultSummary{}, rle
		}
		_ = writeFileAtomic(e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeStderrFile), []byte(err.Error()), 0o644)
		return domain.InvalidJudgeResult(judge.Model, slot, err.Error()), nil
	}

	if info, limited := ratelimit.Detect(judgment.RawResponse, "", domain.SourceJudge); limited {
		return domain.JudgeResultSummary{}, domain.NewRateLimitError(info)
	}

	score := judgment.Score
	passed := judgment.Passed
	grade := judgment.Grade
	if grade == "" {
		grade = domain.GradeFromScore(score)
	}
	summary := domain.JudgeResultSummary{
		Model:          judge.Model,
		Score:          &score,
		Passed:         &passed,
		Grade:          grade,
		Reasoning:      judgment.Reasoning,
		JudgeNumber:    slot,
		IsValid:        judgment.IsValid,
		CriteriaScores: judgment.CriteriaScores,
	}

	if err := writeFileAtomic(e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeResponseFile), []byte(judgment.RawResponse), 0o644); err != nil {
		return summary, err
	}
	// stdout.log mirrors response.txt: the judge's "stdout" is its raw
	// model response, and downstream tooling reads either name.
	if err := writeFileAtomic(e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeStdoutFile), []byte(judgment.RawResponse), 0o644); err != nil {
		return summary, err
	}
	if err := writeJSONAtomic(e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeTimingFile), map[string]any{
		"started_at": started.UTC(),
		"duration_s": time.Since(started).Seconds(),
	}); err != nil {
		return summary, err
	}
	if err := writeFileAtomic(e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeModelFile), []byte(judge.Model+"\n"), 0o644); err != nil {
		return summary, err
	}
	if err := writeJSONAtomic(e.layout.JudgeSlotPath(rc.ID, slot, domain.JudgeJudgmentFile), summary); err != nil {
		return summary, err
	}

	if e.metrics != nil {
		e.metrics.RecordJudgeUsage(judge.Model, judgment.Tokens, judgment.CostUSD)
	}
	return summary, nil
}

// stageFinalize builds the aggregated run result. Rate-limit evidence in
// the raw agent output is re-checked before the trial is accepted as
// terminal, so a limited-but-undetected run never finalizes as an
// ordinary failure.
func (e *Engine) stageFinalize(_ context.Context, rc *RunContext) error {
	resultPath := e.layout.RunResultPath(rc.ID)
	if prior, err := readJSONFile[domain.RunResult](resultPath); err == nil && !rc.AgentReran {
		rc.Final = &prior
		return nil
	}

	if rc.AgentRes == nil || rc.ConsensusRes == nil {
		return fmt.Errorf("finalize reached without agent or judge results")
	}

	if !rc.AgentRes.Succeeded() {
		if info, limited := ratelimit.Detect(rc.AgentRes.Stdout, rc.AgentRes.Stderr, domain.SourceAgent); limited {
			return domain.NewRateLimitError(info)
		}
	}

	passed := rc.ConsensusRes.IsValid && rc.ConsensusRes.Passed != nil && *rc.ConsensusRes.Passed

	final := domain.RunResult{
		Trial:       rc.ID,
		Agent:       *rc.AgentRes,
		Judges:      rc.JudgeResults,
		Consensus:   *rc.ConsensusRes,
		Passed:      passed,
		CostUSD:     rc.AgentRes.CostUSD,
		Tokens:      rc.AgentRes.Tokens,
		CompletedAt: time.Now().UTC(),
	}
	if rc.PipelineRes != nil {
		final.Pipeline = *rc.PipelineRes
	}
	if rc.Baseline != nil {
		final.Baseline = *rc.Baseline
	}

	rc.Final = &final
	if err := writeJSONAtomic(resultPath, final); err != nil {
		return err
	}
	// Pre-seed the checkpoint; the terminal stage re-marks idempotently.
	return e.checkpoint.MarkCompleted(rc.ID, passed)
}

// stageWriteReport renders the human-facing reports.
func (e *Engine) stageWriteReport(_ context.Context, rc *RunContext) error {
	if rc.Final == nil {
		prior, err := readJSONFile[domain.RunResult](e.layout.RunResultPath(rc.ID))
		if err != nil {
			return fmt.Errorf("loading run result for report: %w", err)
		}
		rc.Final = &prior
	}
	return report.WriteTrialReports(e.layout, *rc.Final)
}

// stageCheckpoint is the terminal stage: record completion and release
// the workspace of passed trials. Failed workspaces are preserved for
// debugging.
func (e *Engine) stageCheckpoint(ctx context.Context, rc *RunContext) error {
	if rc.Final == nil {
		return fmt.Errorf("checkpoint reached without a finalized result")
	}
	if err := e.checkpoint.MarkCompleted(rc.ID, rc.Final.Passed); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTrialOutcome(rc.Final.Passed)
	}

	if rc.Final.Passed {
		ws := e.layout.WorkspaceDir(rc.ID)
		if dirExists(ws) {
			if err := e.workspace.CleanupWorktree(ctx, ws); err != nil {
				log.Printf("trial %s: workspace cleanup failed: %v", rc.ID, err)
			}
		}
	}
	return nil
}

// --- small filesystem helpers ---

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// writeFileAtomic writes via temp file + rename so partially written
// artifacts are never observed by the classifier.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", tmp, err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

func readJSONFile[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding %s: %w", path, err)
	}
	return v, nil
}

// copyPath copies a file or directory tree.
func copyPath(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src, dest)
	}
	return copyFile(src, dest, info.Mode().Perm())
}

func copyFile(src, dest string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFileAtomic(dest, data, perm)
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

// symlinkOrCopy prefers a symlink and falls back to copying on
// filesystems without symlink support.
func symlinkOrCopy(target, link string) error {
	if fileExists(link) {
		return nil
	}
	if err := os.Symlink(target, link); err == nil {
		return nil
	}
	src := target
	if !filepath.IsAbs(src) {
		src = filepath.Join(filepath.Dir(link), target)
	}
	return copyPath(src, link)
}

func splitSubtestRef(ref string) (tier, subtest string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:], i > 0 && i < len(ref)-1
		}
	}
	return "", "", false
}
