package engine

import (
	"context"
	"time"

	"gutterdiff/buffer"
	"gutterdiff/git"
	"gutterdiff/snapshot"
	"gutterdiff/text"
)

// Editor defines the editor operations the engine needs.
// Implemented by buffer.NvimEditor for Neovim integration.
type Editor interface {
	Read(bufnr int) (*buffer.Contents, error)
	Render(bufnr int, result *text.Result) error
	Clear(bufnr int) error
	Notify(msg string, level buffer.Level) error
	ShowList(title string, items []string) error
}

// RefSource is a BaseSource backed by a movable git reference.
// Implemented by GitSource.
type RefSource interface {
	BaseSource
	SetSpec(spec git.TrackSpec)
	Spec() git.TrackSpec
	Invalidate()
	RecentCommits(ctx context.Context, path string, n int) ([]git.Commit, error)
}

// SnapshotStore persists captured buffer contents.
// Implemented by snapshot.Store.
type SnapshotStore interface {
	Capture(ctx context.Context, path, content, label string) (*snapshot.Snapshot, error)
	Get(ctx context.Context, id string) (*snapshot.Snapshot, error)
	Latest(ctx context.Context, path string) (*snapshot.Snapshot, error)
	List(ctx context.Context, path string) ([]*snapshot.Snapshot, error)
	Delete(ctx context.Context, id string) error
	Prune(ctx context.Context, path string, keep int) (int, error)
}

type EngineConfig struct {
	Track          git.TrackSpec // default reference for track commands without an argument
	Debounce       time.Duration // delay between the last text change and the refresh
	MaxParallel    int           // concurrent buffer refreshes in a refresh-all
	SnapshotKeep   int           // snapshots kept per path, 0 keeps all
	RefreshTimeout time.Duration // upper bound for one buffer refresh
	CommitLimit    int           // default number of commits listed
}

// Dependencies are the collaborators the engine drives
type Dependencies struct {
	Editor    Editor
	Git       RefSource
	Snapshots SnapshotStore // nil disables snapshot commands
}

type state int

const (
	stateEnabled state = iota
	stateDisabled
)

// String returns a human-readable name for the state
func (s state) String() string {
	switch s {
	case stateEnabled:
		return "Enabled"
	case stateDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}
