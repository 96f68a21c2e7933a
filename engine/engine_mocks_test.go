package engine

import (
	"context"
	"sync"
	"time"

	"gutterdiff/buffer"
	"gutterdiff/git"
	"gutterdiff/text"
)

// --- Mock implementations ---

// mockEditor implements the Editor interface for testing
type mockEditor struct {
	mu       sync.Mutex
	contents map[int]*buffer.Contents
	readErr  error
	panicOn  int // Read of this buffer panics

	// Track method calls
	readCalls   int
	renders     map[int]*text.Result
	renderCalls int
	clears      []int
	notifies    []string
	levels      []buffer.Level
	listTitle   string
	listItems   []string
}

func newMockEditor() *mockEditor {
	return &mockEditor{
		contents: make(map[int]*buffer.Contents),
		renders:  make(map[int]*text.Result),
		panicOn:  -1,
	}
}

// setBuffer makes bufnr show path with lines
func (m *mockEditor) setBuffer(bufnr int, path string, lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[bufnr] = &buffer.Contents{ID: bufnr, Path: path, Lines: lines}
}

func (m *mockEditor) Read(bufnr int) (*buffer.Contents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if bufnr == m.panicOn {
		panic("read exploded")
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	c, ok := m.contents[bufnr]
	if !ok {
		return &buffer.Contents{ID: bufnr}, nil
	}
	copied := *c
	return &copied, nil
}

func (m *mockEditor) Render(bufnr int, result *text.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderCalls++
	m.renders[bufnr] = result
	return nil
}

func (m *mockEditor) Clear(bufnr int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.renders, bufnr)
	m.clears = append(m.clears, bufnr)
	return nil
}

func (m *mockEditor) Notify(msg string, level buffer.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifies = append(m.notifies, msg)
	m.levels = append(m.levels, level)
	return nil
}

func (m *mockEditor) ShowList(title string, items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listTitle = title
	m.listItems = items
	return nil
}

// rendered returns what is currently drawn in bufnr
func (m *mockEditor) rendered(bufnr int) (*text.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.renders[bufnr]
	return r, ok
}

func (m *mockEditor) reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

func (m *mockEditor) lastLevel() buffer.Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.levels) == 0 {
		return -1
	}
	return m.levels[len(m.levels)-1]
}

// mockRefSource implements RefSource for testing
type mockRefSource struct {
	mu            sync.Mutex
	spec          git.TrackSpec
	bases         map[string]text.Base
	errs          map[string]error
	commits       []git.Commit
	invalidations int
	baseCalls     int
}

func newMockRefSource() *mockRefSource {
	return &mockRefSource{
		spec:  git.ParseTrackSpec(""),
		bases: make(map[string]text.Base),
		errs:  make(map[string]error),
	}
}

func (s *mockRefSource) setBase(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases[path] = text.Base{Text: content}
}

func (s *mockRefSource) Base(ctx context.Context, path string) (text.Base, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCalls++
	if err, ok := s.errs[path]; ok {
		return text.Base{}, err
	}
	if base, ok := s.bases[path]; ok {
		return base, nil
	}
	return text.Base{}, ErrNoBase
}

func (s *mockRefSource) Describe() string {
	return "git " + s.Spec().String()
}

func (s *mockRefSource) SetSpec(spec git.TrackSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spec = spec
}

func (s *mockRefSource) Spec() git.TrackSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

func (s *mockRefSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidations++
}

func (s *mockRefSource) RecentCommits(ctx context.Context, path string, n int) ([]git.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.commits) {
		return s.commits[:n], nil
	}
	return s.commits, nil
}

// mockClock implements Clock for testing
type mockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

func newMockClock() *mockClock {
	return &mockClock{
		now: time.Now(),
	}
}

func (c *mockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{
		fireTime: c.now.Add(d),
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves time forward and fires every timer that became due
func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	// Copy timers to avoid holding lock during callback
	var toFire, remaining []*mockTimer
	for _, t := range c.timers {
		if !t.fireTime.After(c.now) {
			toFire = append(toFire, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	for _, t := range toFire {
		t.fire()
	}
}

type mockTimer struct {
	fireTime time.Time
	f        func()
	stopped  bool
	mu       sync.Mutex
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *mockTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	f := t.f
	t.mu.Unlock()
	if f != nil {
		f()
	}
}
