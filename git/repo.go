package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gutterdiff/logger"
)

// ErrUnresolved is returned when no ref of a TrackSpec names a commit
var ErrUnresolved = errors.New("git: reference not resolvable")

// Commit represents a single git commit
type Commit struct {
	Hash    string
	Subject string
	Author  string
	Date    string
}

// Repo is a git work tree plus a cache of resolved track specs
type Repo struct {
	root   string
	gitDir string
	runner Runner

	mu       sync.Mutex
	resolved map[string]string // TrackSpec.String() -> commit hash
}

// NewRepo creates a Repo for the work tree at root
func NewRepo(root, gitDir string, runner Runner) *Repo {
	return &Repo{
		root:     root,
		gitDir:   gitDir,
		runner:   runner,
		resolved: make(map[string]string),
	}
}

// Root returns the top-level directory of the work tree
func (r *Repo) Root() string {
	return r.root
}

// GitDir returns the absolute path of the repository's metadata directory
func (r *Repo) GitDir() string {
	return r.gitDir
}

// git runs a git command in the work tree and returns trimmed stdout
func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.Run(ctx, r.root, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Rel converts an absolute file path into the slash-separated path git
// uses inside trees
func (r *Repo) Rel(path string) (string, error) {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside work tree %s", path, r.root)
	}
	return filepath.ToSlash(rel), nil
}

// Resolve returns the commit hash spec points at. Results are cached until
// Invalidate is called.
func (r *Repo) Resolve(ctx context.Context, spec TrackSpec) (string, error) {
	key := spec.String()

	r.mu.Lock()
	hash, ok := r.resolved[key]
	r.mu.Unlock()
	if ok {
		return hash, nil
	}

	hash, err := r.resolve(ctx, spec)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.resolved[key] = hash
	r.mu.Unlock()

	logger.Debug("resolved %q to %s in %s", key, hash, r.root)
	return hash, nil
}

func (r *Repo) resolve(ctx context.Context, spec TrackSpec) (string, error) {
	for _, ref := range spec.Refs {
		hash, err := r.git(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
		if err != nil || hash == "" {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		if !spec.MergeBase {
			return hash, nil
		}

		base, err := r.git(ctx, "merge-base", "HEAD", hash)
		if err != nil || base == "" {
			return "", fmt.Errorf("%w: no merge-base of HEAD and %s", ErrUnresolved, ref)
		}
		return base, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolved, spec)
}

// Invalidate drops every cached resolution, typically after HEAD or a
// branch moved
func (r *Repo) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.resolved)
}

// RecentCommits returns the most recent n commits reachable from HEAD
func (r *Repo) RecentCommits(ctx context.Context, n int) ([]Commit, error) {
	// Use a separator unlikely to appear in commit messages
	sep := "\x1f"
	format := strings.Join([]string{"%H", "%s", "%an", "%ai"}, sep)
	out, err := r.git(ctx, "log", "--format="+format, "-n", strconv.Itoa(n))
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	if out == "" {
		return nil, nil
	}

	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, sep, 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, Commit{
			Hash:    parts[0],
			Subject: parts[1],
			Author:  parts[2],
			Date:    parts[3],
		})
	}
	return commits, nil
}

// UnifiedDiff returns the zero-context diff of the work tree against commit,
// optionally restricted to paths. The output is left untrimmed.
func (r *Repo) UnifiedDiff(ctx context.Context, commit string, paths ...string) (string, error) {
	args := []string{"diff", "-U0", "--no-ext-diff", "--no-color", commit}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	out, err := r.runner.Run(ctx, r.root, args...)
	if err != nil {
		return "", fmt.Errorf("diff against %s: %w", commit, err)
	}
	return out, nil
}
