package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gutterdiff/git"
	"gutterdiff/snapshot"
)

func TestIsNoBase(t *testing.T) {
	assert.True(t, isNoBase(ErrNoBase), "ErrNoBase")
	assert.True(t, isNoBase(fmt.Errorf("wrapped: %w", git.ErrUnresolved)), "wrapped unresolved")
	assert.True(t, isNoBase(snapshot.ErrNotFound), "missing snapshot")
	assert.False(t, isNoBase(errors.New("disk on fire")), "real failure")
}

func TestSnapshotSourcePinning(t *testing.T) {
	store, err := snapshot.Open(":memory:")
	require.NoError(t, err, "open store")
	defer store.Close()
	ctx := context.Background()

	src := NewSnapshotSource(store)
	assert.Equal(t, "snapshot", src.Describe(), "Describe")

	_, err = src.Base(ctx, "/a.txt")
	assert.ErrorIs(t, err, snapshot.ErrNotFound, "nothing captured")

	first, err := store.Capture(ctx, "/a.txt", "one\n", "")
	require.NoError(t, err, "capture")
	second, err := store.Capture(ctx, "/a.txt", "two\n", "")
	require.NoError(t, err, "capture")

	base, err := src.Base(ctx, "/a.txt")
	require.NoError(t, err, "latest")
	assert.Equal(t, "two\n", base.Text, "newest by default")
	assert.False(t, base.Absent, "snapshots are never absent")

	src.Pin("/a.txt", first.ID)
	base, err = src.Base(ctx, "/a.txt")
	require.NoError(t, err, "pinned")
	assert.Equal(t, "one\n", base.Text, "pinned snapshot")

	src.Forget(second.ID)
	id, ok := src.Pinned("/a.txt")
	assert.True(t, ok, "forgetting another id keeps the pin")
	assert.Equal(t, first.ID, id, "pinned id")

	src.Forget(first.ID)
	_, ok = src.Pinned("/a.txt")
	assert.False(t, ok, "pin forgotten")

	src.Pin("/a.txt", first.ID)
	src.Unpin("/a.txt")
	base, err = src.Base(ctx, "/a.txt")
	require.NoError(t, err, "unpinned")
	assert.Equal(t, "two\n", base.Text, "back to newest")
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestGitSource(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err, "resolve temp dir")
	gitRun(t, dir, "init", "-q")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "Test")
	gitRun(t, dir, "config", "commit.gpgsign", "false")

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644), "write")
	gitRun(t, dir, "add", "a.txt")
	gitRun(t, dir, "commit", "-q", "-m", "first")

	runner := git.NewExecRunner("", 0)
	src := NewGitSource(git.NewLocator(runner), &git.ExecProvider{}, git.ParseTrackSpec(""))

	var repos []string
	src.OnRepo(func(r *git.Repo) { repos = append(repos, r.Root()) })

	ctx := context.Background()
	base, err := src.Base(ctx, path)
	require.NoError(t, err, "base of committed file")
	assert.Equal(t, "one\n", base.Text, "committed content")

	base, err = src.Base(ctx, filepath.Join(dir, "new.txt"))
	require.NoError(t, err, "base of untracked file")
	assert.True(t, base.Absent, "untracked file is absent")

	assert.Equal(t, []string{dir}, repos, "repository reported once")

	commits, err := src.RecentCommits(ctx, path, 5)
	require.NoError(t, err, "commits")
	require.Len(t, commits, 1, "one commit")
	assert.Equal(t, "first", commits[0].Subject, "subject")

	src.SetSpec(git.ParseTrackSpec("no-such-branch"))
	assert.Equal(t, "git no-such-branch", src.Describe(), "Describe")
	_, err = src.Base(ctx, path)
	assert.True(t, isNoBase(err), "unresolvable ref means no base: %v", err)
}
