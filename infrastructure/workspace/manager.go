// Package workspace manages the git-worktree lifecycle of trial
// workspaces. Every trial gets an isolated worktree on its own branch,
// pinned to the experiment's base commit, so agents can never see or
// disturb each other's work.
package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
)

var _ ports.WorkspaceManager = (*Manager)(nil)

// Manager drives git against one benchmark repository.
type Manager struct {
	// repoPath is the primary checkout worktrees are created from.
	repoPath string
}

// NewManager returns a manager rooted at the benchmark repository.
func NewManager(repoPath string) *Manager {
	return &Manager{repoPath: repoPath}
}

// git runs one git command in dir and returns its combined output.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// CreateWorktree materializes a worktree at dest on a fresh branch
// rooted at baseCommit. A stale branch left by a crashed prior attempt
// is pruned and the creation retried once.
func (m *Manager) CreateWorktree(ctx context.Context, dest, branch, baseCommit string) error {
	_, err := git(ctx, m.repoPath, "worktree", "add", "-b", branch, dest, baseCommit)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("creating worktree at %s: %w", dest, err)
	}

	// Stale leftovers from a crashed run. Prune and retry once.
	_, _ = git(ctx, m.repoPath, "worktree", "prune")
	_, _ = git(ctx, m.repoPath, "branch", "-D", branch)

	if _, err := git(ctx, m.repoPath, "worktree", "add", "-b", branch, dest, baseCommit); err != nil {
		return fmt.Errorf("creating worktree at %s after prune: %w", dest, err)
	}
	return nil
}

// CaptureDiff stages everything and diffs against HEAD, so untracked
// files the agent created appear in the patch alongside edits.
func (m *Manager) CaptureDiff(ctx context.Context, dir string) (domain.CapturedDiff, error) {
	if _, err := git(ctx, dir, "add", "-A"); err != nil {
		return domain.CapturedDiff{}, err
	}

	diff, err := git(ctx, dir, "diff", "--cached", "HEAD")
	if err != nil {
		return domain.CapturedDiff{}, err
	}

	status, err := git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return domain.CapturedDiff{}, err
	}

	return domain.CapturedDiff{
		Diff:         diff,
		Status:       status,
		DeletedFiles: deletedFiles(status),
	}, nil
}

// deletedFiles extracts deleted paths from porcelain status output.
func deletedFiles(status string) []string {
	var out []string
	for _, line := range strings.Split(status, "\n") {
		if len(line) < 4 {
			continue
		}
		if line[0] == 'D' || line[1] == 'D' {
			out = append(out, strings.TrimSpace(line[3:]))
		}
	}
	return out
}

// CommitAll commits pending changes. A clean tree is a no-op so the
// overlay stage stays idempotent across resumes.
func (m *Manager) CommitAll(ctx context.Context, dir, message string) error {
	status, err := git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}

	if _, err := git(ctx, dir, "add", "-A"); err != nil {
		return err
	}
	// Explicit identity: harness commits are mechanical and must not
	// depend on ambient git config being present on the host.
	if _, err := git(ctx, dir,
		"-c", "user.name=gauntlet", "-c", "user.email=gauntlet@localhost",
		"commit", "-q", "-m", message); err != nil {
		return fmt.Errorf("committing in %s: %w", dir, err)
	}
	return nil
}

// ApplyPatch applies a unified diff file onto the worktree.
func (m *Manager) ApplyPatch(ctx context.Context, dir, patchFile string) error {
	if _, err := git(ctx, dir, "apply", "--whitespace=nowarn", patchFile); err != nil {
		return fmt.Errorf("applying patch %s: %w", patchFile, err)
	}
	return nil
}

// CleanupWorktree removes the worktree and deletes its branch. The
// branch name is read back from the worktree before removal since the
// caller only knows the directory.
func (m *Manager) CleanupWorktree(ctx context.Context, dir string) error {
	branch, _ := git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	branch = strings.TrimSpace(branch)

	if _, err := git(ctx, m.repoPath, "worktree", "remove", "--force", dir); err != nil {
		return fmt.Errorf("removing worktree %s: %w", dir, err)
	}
	if branch != "" && branch != "HEAD" {
		_, _ = git(ctx, m.repoPath, "branch", "-D", branch)
	}
	return nil
}
