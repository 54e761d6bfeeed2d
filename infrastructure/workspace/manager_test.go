package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repository with one base commit and returns
// its path and the base commit hash.
func initRepo(t *testing.T) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
		return strings.TrimSpace(string(out))
	}

	run("init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("base\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "base")
	return repo, run("rev-parse", "HEAD")
}

func TestCreateWorktree(t *testing.T) {
	repo, base := initRepo(t)
	m := NewManager(repo)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, m.CreateWorktree(ctx, dest, "trial/t1-run01", base))
	assert.FileExists(t, filepath.Join(dest, "README.md"))

	t.Run("stale branch is pruned and retried", func(t *testing.T) {
		// Remove the directory behind git's back, as a crashed run would.
		require.NoError(t, os.RemoveAll(dest))

		dest2 := filepath.Join(t.TempDir(), "ws2")
		require.NoError(t, m.CreateWorktree(ctx, dest2, "trial/t1-run01", base))
		assert.FileExists(t, filepath.Join(dest2, "README.md"))
	})
}

func TestCaptureDiff(t *testing.T) {
	repo, base := initRepo(t)
	m := NewManager(repo)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, m.CreateWorktree(ctx, dest, "trial/diff-run01", base))

	// Edit a tracked file, add an untracked one, delete nothing yet.
	require.NoError(t, os.WriteFile(filepath.Join(dest, "README.md"), []byte("changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "new.go"), []byte("package main\n"), 0o644))

	diff, err := m.CaptureDiff(ctx, dest)
	require.NoError(t, err)
	assert.Contains(t, diff.Diff, "changed")
	assert.Contains(t, diff.Diff, "new.go", "untracked files must appear in the diff")
	assert.NotEmpty(t, diff.Status)
	assert.Empty(t, diff.DeletedFiles)

	t.Run("deletions are listed", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dest, "README.md")))
		diff, err := m.CaptureDiff(ctx, dest)
		require.NoError(t, err)
		assert.Contains(t, diff.DeletedFiles, "README.md")
	})
}

func TestCommitAll(t *testing.T) {
	repo, base := initRepo(t)
	m := NewManager(repo)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, m.CreateWorktree(ctx, dest, "trial/commit-run01", base))

	// Clean tree: no-op, must not error.
	require.NoError(t, m.CommitAll(ctx, dest, "nothing"))

	require.NoError(t, os.WriteFile(filepath.Join(dest, "overlay.txt"), []byte("x\n"), 0o644))
	require.NoError(t, m.CommitAll(ctx, dest, "seed tier resources"))

	// Committed overlay no longer shows up in the diff.
	diff, err := m.CaptureDiff(ctx, dest)
	require.NoError(t, err)
	assert.NotContains(t, diff.Diff, "overlay.txt")
}

func TestApplyPatch(t *testing.T) {
	repo, base := initRepo(t)
	m := NewManager(repo)
	ctx := context.Background()

	// Produce a patch in one worktree, apply it in another.
	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, m.CreateWorktree(ctx, src, "trial/patch-src", base))
	require.NoError(t, os.WriteFile(filepath.Join(src, "feature.go"), []byte("package feature\n"), 0o644))
	diff, err := m.CaptureDiff(ctx, src)
	require.NoError(t, err)

	patchFile := filepath.Join(t.TempDir(), "delegate.patch")
	require.NoError(t, os.WriteFile(patchFile, []byte(diff.Diff), 0o644))

	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, m.CreateWorktree(ctx, dst, "trial/patch-dst", base))
	require.NoError(t, m.ApplyPatch(ctx, dst, patchFile))
	assert.FileExists(t, filepath.Join(dst, "feature.go"))
}

func TestCleanupWorktree(t *testing.T) {
	repo, base := initRepo(t)
	m := NewManager(repo)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, m.CreateWorktree(ctx, dest, "trial/cleanup-run01", base))
	require.NoError(t, m.CleanupWorktree(ctx, dest))

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))

	// The branch is gone too, so the same trial can be re-created.
	require.NoError(t, m.CreateWorktree(ctx, dest, "trial/cleanup-run01", base))
}
