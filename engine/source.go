package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gutterdiff/git"
	"gutterdiff/snapshot"
	"gutterdiff/text"
)

// ErrNoBase means no reference content exists for a path. Callers clear the
// path's markers instead of classifying.
var ErrNoBase = errors.New("engine: no base available")

// BaseSource supplies the content a buffer is compared against
type BaseSource interface {
	Base(ctx context.Context, path string) (text.Base, error)
	Describe() string
}

// isNoBase reports whether err only means there is nothing to compare with
func isNoBase(err error) bool {
	return errors.Is(err, ErrNoBase) ||
		errors.Is(err, git.ErrUnresolved) ||
		errors.Is(err, snapshot.ErrNotFound)
}

// GitSource compares buffers against a tracked git reference
type GitSource struct {
	locator  *git.Locator
	provider git.ContentProvider

	mu     sync.Mutex
	spec   git.TrackSpec
	seen   map[string]bool // repository roots already reported to onRepo
	onRepo func(*git.Repo)
}

// NewGitSource creates a GitSource tracking spec
func NewGitSource(locator *git.Locator, provider git.ContentProvider, spec git.TrackSpec) *GitSource {
	return &GitSource{
		locator:  locator,
		provider: provider,
		spec:     spec,
		seen:     make(map[string]bool),
	}
}

// OnRepo registers fn to be called once for every repository the source
// reads from, e.g. to start watching its metadata
func (s *GitSource) OnRepo(fn func(*git.Repo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRepo = fn
}

// SetSpec changes the tracked reference
func (s *GitSource) SetSpec(spec git.TrackSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spec = spec
}

// Spec returns the tracked reference
func (s *GitSource) Spec() git.TrackSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

func (s *GitSource) Describe() string {
	return "git " + s.Spec().String()
}

// Invalidate forgets resolved references of every repository
func (s *GitSource) Invalidate() {
	s.locator.Invalidate()
}

func (s *GitSource) repo(ctx context.Context, path string) (*git.Repo, error) {
	repo, err := s.locator.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	notify := !s.seen[repo.Root()] && s.onRepo != nil
	s.seen[repo.Root()] = true
	onRepo := s.onRepo
	s.mu.Unlock()

	if notify {
		onRepo(repo)
	}
	return repo, nil
}

func (s *GitSource) Base(ctx context.Context, path string) (text.Base, error) {
	repo, err := s.repo(ctx, path)
	if err != nil {
		return text.Base{}, err
	}

	commit, err := repo.Resolve(ctx, s.Spec())
	if err != nil {
		return text.Base{}, err
	}

	rel, err := repo.Rel(path)
	if err != nil {
		return text.Base{}, fmt.Errorf("%w: %v", ErrNoBase, err)
	}

	return s.provider.Content(ctx, repo, commit, rel)
}

// RecentCommits lists the newest n commits of the repository holding path
func (s *GitSource) RecentCommits(ctx context.Context, path string, n int) ([]git.Commit, error) {
	repo, err := s.repo(ctx, path)
	if err != nil {
		return nil, err
	}
	return repo.RecentCommits(ctx, n)
}

// SnapshotSource compares buffers against stored snapshots: the one pinned
// for the path, else the newest snapshot of the path
type SnapshotSource struct {
	store SnapshotStore

	mu     sync.Mutex
	pinned map[string]string // path -> snapshot id
}

// NewSnapshotSource creates a SnapshotSource reading from store
func NewSnapshotSource(store SnapshotStore) *SnapshotSource {
	return &SnapshotSource{store: store, pinned: make(map[string]string)}
}

// Pin makes path compare against snapshot id
func (s *SnapshotSource) Pin(path, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[path] = id
}

// Unpin returns path to comparing against its newest snapshot
func (s *SnapshotSource) Unpin(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, path)
}

// Forget unpins every path pinned to id
func (s *SnapshotSource) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, pinned := range s.pinned {
		if pinned == id {
			delete(s.pinned, path)
		}
	}
}

// Pinned returns the snapshot id pinned for path
func (s *SnapshotSource) Pinned(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pinned[path]
	return id, ok
}

func (s *SnapshotSource) Describe() string {
	return "snapshot"
}

func (s *SnapshotSource) Base(ctx context.Context, path string) (text.Base, error) {
	var snap *snapshot.Snapshot
	var err error
	if id, ok := s.Pinned(path); ok {
		snap, err = s.store.Get(ctx, id)
	} else {
		snap, err = s.store.Latest(ctx, path)
	}
	if err != nil {
		return text.Base{}, err
	}
	return text.Base{Text: snap.Content}, nil
}
