package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gutterdiff/buffer"
	"gutterdiff/git"
	"gutterdiff/text"
)

// CommandKind identifies a user command. Behavior is bound to the kind
// through commandTable; names only exist for the RPC boundary and messages.
type CommandKind int

const (
	CommandTrackRef CommandKind = iota
	CommandTrackMergeBase
	CommandTrackSnapshot
	CommandCaptureSnapshot
	CommandDeleteSnapshot
	CommandListSnapshots
	CommandListCommits
	CommandRefresh
	CommandToggle
	CommandClear
)

var commandNames = map[CommandKind]string{
	CommandTrackRef:        "track_ref",
	CommandTrackMergeBase:  "track_merge_base",
	CommandTrackSnapshot:   "track_snapshot",
	CommandCaptureSnapshot: "capture_snapshot",
	CommandDeleteSnapshot:  "delete_snapshot",
	CommandListSnapshots:   "list_snapshots",
	CommandListCommits:     "list_commits",
	CommandRefresh:         "refresh",
	CommandToggle:          "toggle",
	CommandClear:           "clear",
}

// String returns the RPC name of the command
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// ErrUnknownCommand is returned for command names with no kind
var ErrUnknownCommand = errors.New("engine: unknown command")

// ParseCommandKind maps an RPC command name to its kind
func ParseCommandKind(s string) (CommandKind, error) {
	for kind, name := range commandNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Command is one user request; Buf is the buffer it was issued from
type Command struct {
	Kind CommandKind
	Arg  string
	Buf  int
}

type commandHandler func(*Engine, Command) error

// commandTable binds every CommandKind to its handler.
// Handlers run on the event loop with e.mu held.
var commandTable = map[CommandKind]commandHandler{
	CommandTrackRef:        (*Engine).cmdTrackRef,
	CommandTrackMergeBase:  (*Engine).cmdTrackMergeBase,
	CommandTrackSnapshot:   (*Engine).cmdTrackSnapshot,
	CommandCaptureSnapshot: (*Engine).cmdCaptureSnapshot,
	CommandDeleteSnapshot:  (*Engine).cmdDeleteSnapshot,
	CommandListSnapshots:   (*Engine).cmdListSnapshots,
	CommandListCommits:     (*Engine).cmdListCommits,
	CommandRefresh:         (*Engine).cmdRefresh,
	CommandToggle:          (*Engine).cmdToggle,
	CommandClear:           (*Engine).cmdClear,
}

// execute dispatches cmd through commandTable
func (e *Engine) execute(cmd Command) error {
	handler, ok := commandTable[cmd.Kind]
	if !ok {
		return fmt.Errorf("%w: kind %d", ErrUnknownCommand, cmd.Kind)
	}
	return handler(e, cmd)
}

func (e *Engine) trackSpec(arg string, mergeBase bool) git.TrackSpec {
	spec := e.config.Track
	if strings.TrimSpace(arg) != "" {
		spec = git.ParseTrackSpec(arg)
	}
	if mergeBase {
		spec.MergeBase = true
	}
	return spec
}

func (e *Engine) switchToGit(spec git.TrackSpec) error {
	e.git.SetSpec(spec)
	e.source = e.git
	e.notify("tracking "+e.source.Describe(), buffer.LevelInfo)
	e.refreshAll()
	return nil
}

func (e *Engine) cmdTrackRef(cmd Command) error {
	return e.switchToGit(e.trackSpec(cmd.Arg, false))
}

func (e *Engine) cmdTrackMergeBase(cmd Command) error {
	return e.switchToGit(e.trackSpec(cmd.Arg, true))
}

var errSnapshotsDisabled = errors.New("snapshots are disabled")

func (e *Engine) cmdTrackSnapshot(cmd Command) error {
	if e.snapshots == nil {
		return errSnapshotsDisabled
	}

	if id := strings.TrimSpace(cmd.Arg); id != "" {
		ctx, cancel := e.opContext()
		defer cancel()

		snap, err := e.store.Get(ctx, id)
		if err != nil {
			return err
		}
		e.snapshots.Pin(snap.Path, snap.ID)
	} else if path := e.buffers[cmd.Buf]; path != "" {
		e.snapshots.Unpin(path)
	}

	e.source = e.snapshots
	e.notify("tracking snapshots", buffer.LevelInfo)
	e.refreshAll()
	return nil
}

func (e *Engine) cmdCaptureSnapshot(cmd Command) error {
	if e.store == nil {
		return errSnapshotsDisabled
	}

	contents, err := e.editor.Read(cmd.Buf)
	if err != nil {
		return fmt.Errorf("read buffer %d: %w", cmd.Buf, err)
	}
	if contents.Path == "" {
		return errors.New("buffer has no file name")
	}

	ctx, cancel := e.opContext()
	defer cancel()

	snap, err := e.store.Capture(ctx, contents.Path, contents.Text(), strings.TrimSpace(cmd.Arg))
	if err != nil {
		return err
	}
	if _, err := e.store.Prune(ctx, contents.Path, e.config.SnapshotKeep); err != nil {
		return err
	}

	e.notify("captured snapshot "+shortID(snap.ID), buffer.LevelInfo)
	if e.source == BaseSource(e.snapshots) {
		e.refreshAll()
	}
	return nil
}

func (e *Engine) cmdDeleteSnapshot(cmd Command) error {
	if e.store == nil {
		return errSnapshotsDisabled
	}
	id := strings.TrimSpace(cmd.Arg)
	if id == "" {
		return errors.New("snapshot id required")
	}

	ctx, cancel := e.opContext()
	defer cancel()

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.snapshots.Forget(id)

	e.notify("deleted snapshot "+shortID(id), buffer.LevelInfo)
	if e.source == BaseSource(e.snapshots) {
		e.refreshAll()
	}
	return nil
}

func (e *Engine) cmdListSnapshots(cmd Command) error {
	if e.store == nil {
		return errSnapshotsDisabled
	}

	ctx, cancel := e.opContext()
	defer cancel()

	path := e.buffers[cmd.Buf]
	snaps, err := e.store.List(ctx, path)
	if err != nil {
		return err
	}

	items := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		item := fmt.Sprintf("%s  %s  %d bytes", snap.ID, snap.CreatedAt.Format("2006-01-02 15:04:05"), snap.Size)
		if snap.Label != "" {
			item += "  " + snap.Label
		}
		if path == "" {
			item += "  " + snap.Path
		}
		items = append(items, item)
	}

	title := "Snapshots"
	if path != "" {
		title += " of " + path
	}
	return e.editor.ShowList(title, items)
}

func (e *Engine) cmdListCommits(cmd Command) error {
	n := e.config.CommitLimit
	if arg := strings.TrimSpace(cmd.Arg); arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid commit count %q", arg)
		}
		n = parsed
	}

	path := e.buffers[cmd.Buf]
	if path == "" {
		return errors.New("buffer has no file name")
	}

	ctx, cancel := e.opContext()
	defer cancel()

	commits, err := e.git.RecentCommits(ctx, path, n)
	if err != nil {
		return err
	}

	items := make([]string, 0, len(commits))
	for _, c := range commits {
		items = append(items, fmt.Sprintf("%s  %s  %s  %s", shortID(c.Hash), c.Date, c.Author, c.Subject))
	}
	return e.editor.ShowList("Recent commits", items)
}

func (e *Engine) cmdRefresh(cmd Command) error {
	if e.state != stateEnabled {
		return nil
	}
	if cmd.Buf == 0 {
		e.refreshAll()
		return nil
	}
	e.track(cmd.Buf)
	e.refreshBuffer(cmd.Buf)
	return nil
}

func (e *Engine) cmdToggle(Command) error {
	if e.state == stateEnabled {
		e.state = stateDisabled
		e.debouncer.CancelAll()

		batch := make(map[string]*text.Result)
		for _, path := range e.marks.Paths() {
			batch[path] = nil
		}
		e.marks.Update(batch)
		e.notify("markers disabled", buffer.LevelInfo)
		return nil
	}

	e.state = stateEnabled
	e.notify("markers enabled", buffer.LevelInfo)
	e.refreshAll()
	return nil
}

func (e *Engine) cmdClear(cmd Command) error {
	e.debouncer.Cancel(bufKey(cmd.Buf))
	if path := e.buffers[cmd.Buf]; path != "" {
		e.marks.Update(map[string]*text.Result{path: nil})
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
