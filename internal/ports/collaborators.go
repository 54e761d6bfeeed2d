// Package ports defines the interfaces between the execution engine and
// its collaborators. The engine depends only on these contracts; the
// concrete vendor adapters, git mechanics and build commands live in
// infrastructure packages and are injected at assembly time.
package ports

import (
	"context"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// AgentInvocation describes one external coding-agent run.
type AgentInvocation struct {
	// WorkspaceDir is the isolated workspace the agent may modify.
	WorkspaceDir string

	// PromptPath is the on-disk task prompt handed to the agent.
	PromptPath string

	// OutputDir receives the agent's stdout/stderr/output artifacts.
	OutputDir string

	// Model names the agent model or binary profile to invoke.
	Model string

	// TimeoutSeconds bounds the agent's wall-clock time.
	TimeoutSeconds int
}

// AgentRunner executes an external coding agent against a workspace.
// Implementations must capture stdout/stderr, honor the wall-clock
// timeout, and surface timeouts via domain.ErrAgentTimeout so callers
// can synthesize a failure result instead of aborting the pipeline.
type AgentRunner interface {
	// Run invokes the agent and returns its parsed result. Expected
	// agent failures (crash, non-zero exit) are reported inside the
	// result, not as an error.
	Run(ctx context.Context, inv AgentInvocation) (domain.AgentResult, error)

	// ReplayScript renders the exact reproducible shell invocation for
	// inv, persisted before execution as the replay artifact.
	ReplayScript(inv AgentInvocation) string
}

// Judgment is the parsed verdict from one judge invocation.
type Judgment struct {
	Score          float64            `json:"score"`
	Passed         bool               `json:"passed"`
	Grade          string             `json:"grade"`
	Reasoning      string             `json:"reasoning"`
	IsValid        bool               `json:"is_valid"`
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`

	// RawResponse preserves the unparsed model output for the
	// response.txt artifact and rate-limit detection.
	RawResponse string `json:"-"`

	// Tokens and CostUSD track resource usage for budget accounting.
	Tokens  domain.TokenStats `json:"tokens"`
	CostUSD float64           `json:"cost_usd"`
}

// JudgeRunner evaluates a trial's work with one judge model.
type JudgeRunner interface {
	// Judge sends the shared judge prompt to the given model and parses
	// the structured verdict. Rate limiting must surface as a
	// domain.RateLimitError; all other failures are ordinary errors the
	// caller converts into an invalid judge slot.
	Judge(ctx context.Context, workspaceDir, prompt, model string) (Judgment, error)
}

// WorkspaceManager owns the git-worktree lifecycle of trial workspaces.
// Operations are idempotent; creation must tolerate "branch already
// exists" by pruning and retrying once.
type WorkspaceManager interface {
	// CreateWorktree materializes an isolated worktree at dest on a new
	// branch rooted at baseCommit.
	CreateWorktree(ctx context.Context, dest, branch, baseCommit string) error

	// CaptureDiff collects the diff, status and deleted files of a
	// worktree relative to its base commit.
	CaptureDiff(ctx context.Context, dir string) (domain.CapturedDiff, error)

	// CommitAll commits any pending changes in the worktree so later
	// diffs exclude harness-applied overlays.
	CommitAll(ctx context.Context, dir, message string) error

	// ApplyPatch applies a unified diff onto the worktree, used to seed
	// delegation-tier workspaces from lower-tier winners.
	ApplyPatch(ctx context.Context, dir, patch string) error

	// CleanupWorktree releases the worktree and its branch.
	CleanupWorktree(ctx context.Context, dir string) error
}

// PipelineRunner executes the build/lint/test validation pipeline for a
// workspace. Failures of the code under test are data, not errors.
type PipelineRunner interface {
	Run(ctx context.Context, workspaceDir, language string) (domain.PipelineResult, error)
}
