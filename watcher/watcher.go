// Package watcher reports changes to git metadata, so markers can follow
// commits, checkouts and branch updates made outside the editor.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"gutterdiff/logger"
)

// Debouncer coalesces bursts of events per key.
// Implemented by engine.Debouncer.
type Debouncer interface {
	Schedule(key string, fn func())
	Stop()
}

// Watcher watches the git directories of opened repositories
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer Debouncer
	onChange  func(gitDir string)

	mu      sync.Mutex
	dirs    map[string]string // watched directory -> git dir it belongs to
	gitDirs map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

// New starts a Watcher calling onChange once a burst of metadata changes in
// a git dir has settled
func New(debouncer Debouncer, onChange func(gitDir string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:        fs,
		debouncer: debouncer,
		onChange:  onChange,
		dirs:      make(map[string]string),
		gitDirs:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	go w.observe()
	return w, nil
}

// Add watches gitDir and its branch refs. Adding the same dir twice is a
// no-op.
func (w *Watcher) Add(gitDir string) error {
	gitDir = filepath.Clean(gitDir)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.gitDirs[gitDir] {
		return nil
	}

	if err := w.fs.Add(gitDir); err != nil {
		return fmt.Errorf("watch %s: %w", gitDir, err)
	}
	w.dirs[gitDir] = gitDir
	w.gitDirs[gitDir] = true

	// Commits on the current branch only touch refs/heads/<branch>
	heads := filepath.Join(gitDir, "refs", "heads")
	if info, err := os.Stat(heads); err == nil && info.IsDir() {
		if err := w.fs.Add(heads); err != nil {
			logger.Warn("watch %s: %v", heads, err)
		} else {
			w.dirs[heads] = gitDir
		}
	}

	logger.Debug("watching git dir %s", gitDir)
	return nil
}

// Watched returns the number of git dirs being watched
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.gitDirs)
}

// Close stops watching and drops pending notifications. Safe to call twice.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) observe() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("git watcher panic recovered: %v", r)
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("git watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	gitDir, ok := w.dirs[filepath.Dir(ev.Name)]
	w.mu.Unlock()
	if !ok || !relevant(gitDir, ev.Name) {
		return
	}

	logger.Debug("git metadata changed: %s %s", ev.Op, ev.Name)
	w.debouncer.Schedule(gitDir, func() {
		w.onChange(gitDir)
	})
}

// relevant reports whether a change to name can move what a tracked ref
// points at
func relevant(gitDir, name string) bool {
	if strings.HasSuffix(name, ".lock") {
		return false
	}

	rel, err := filepath.Rel(gitDir, name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	switch rel {
	case "HEAD", "index", "packed-refs":
		return true
	}
	return strings.HasPrefix(rel, "refs/")
}
