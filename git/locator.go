package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Locator maps file paths to the repositories containing them, opening
// each work tree once
type Locator struct {
	runner Runner

	mu    sync.Mutex
	repos map[string]*Repo // work tree root -> repo
	dirs  map[string]*Repo // directory -> repo, nil when not inside one
}

// NewLocator creates a Locator that runs git through runner
func NewLocator(runner Runner) *Locator {
	return &Locator{
		runner: runner,
		repos:  make(map[string]*Repo),
		dirs:   make(map[string]*Repo),
	}
}

// Open returns the repository containing path, which may be a file or a
// directory
func (l *Locator) Open(ctx context.Context, path string) (*Repo, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path of %s: %w", path, err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		dir = filepath.Dir(dir)
	}

	l.mu.Lock()
	repo, known := l.dirs[dir]
	l.mu.Unlock()
	if known {
		if repo == nil {
			return nil, fmt.Errorf("%w: %s is not inside a work tree", ErrUnresolved, dir)
		}
		return repo, nil
	}

	out, err := l.runner.Run(ctx, dir, "rev-parse", "--show-toplevel", "--absolute-git-dir")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.mu.Lock()
		l.dirs[dir] = nil
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not inside a work tree", ErrUnresolved, dir)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		return nil, fmt.Errorf("unexpected rev-parse output in %s: %q", dir, out)
	}
	root, gitDir := filepath.Clean(lines[0]), filepath.Clean(lines[1])

	l.mu.Lock()
	defer l.mu.Unlock()
	repo, ok := l.repos[root]
	if !ok {
		repo = NewRepo(root, gitDir, l.runner)
		l.repos[root] = repo
	}
	l.dirs[dir] = repo
	return repo, nil
}

// Repos returns every repository opened so far
func (l *Locator) Repos() []*Repo {
	l.mu.Lock()
	defer l.mu.Unlock()

	repos := make([]*Repo, 0, len(l.repos))
	for _, repo := range l.repos {
		repos = append(repos, repo)
	}
	return repos
}

// Invalidate drops resolved refs of every repository and forgets
// directories that were not inside one, since a repository may have been
// created since
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, repo := range l.repos {
		repo.Invalidate()
	}
	for dir, repo := range l.dirs {
		if repo == nil {
			delete(l.dirs, dir)
		}
	}
}
