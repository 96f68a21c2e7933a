package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gutterdiff/buffer"
	"gutterdiff/logger"
	"gutterdiff/text"
)

const (
	defaultRefreshTimeout = 5 * time.Second
	defaultCommitLimit    = 20
	eventQueueSize        = 100
)

type Engine struct {
	editor    Editor
	git       RefSource
	store     SnapshotStore
	snapshots *SnapshotSource // nil when store is nil
	source    BaseSource

	marks     *MarkStore
	debouncer *Debouncer
	clock     Clock
	config    EngineConfig

	state   state
	buffers map[int]string // known buffer -> path ("" until first read)

	mu        sync.Mutex
	eventChan chan Event

	// Main context and cancel for the engine lifecycle
	mainCtx    context.Context
	mainCancel context.CancelFunc

	// Read by post without e.mu, which handlers hold while they run
	stopped  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewEngine(deps Dependencies, config EngineConfig, clock Clock) (*Engine, error) {
	if deps.Editor == nil || deps.Git == nil {
		return nil, fmt.Errorf("engine needs an editor and a git source")
	}
	if clock == nil {
		clock = SystemClock
	}
	if config.MaxParallel < 1 {
		config.MaxParallel = 1
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = defaultRefreshTimeout
	}
	if config.CommitLimit <= 0 {
		config.CommitLimit = defaultCommitLimit
	}

	e := &Engine{
		editor:    deps.Editor,
		git:       deps.Git,
		store:     deps.Snapshots,
		source:    deps.Git,
		marks:     NewMarkStore(),
		debouncer: NewDebouncer(clock, config.Debounce),
		clock:     clock,
		config:    config,
		state:     stateEnabled,
		buffers:   make(map[int]string),
		eventChan: make(chan Event, eventQueueSize),
		done:      make(chan struct{}),
		// Replaced in Start; lets handlers run before the loop exists
		mainCtx: context.Background(),
	}
	if deps.Snapshots != nil {
		e.snapshots = NewSnapshotSource(deps.Snapshots)
	}

	e.marks.Subscribe(e.render)
	return e, nil
}

// Marks exposes the mark store, e.g. for status queries
func (e *Engine) Marks() *MarkStore {
	return e.marks
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopped.Load() {
		e.mu.Unlock()
		return
	}
	e.mainCtx, e.mainCancel = context.WithCancel(ctx)
	loopCtx := e.mainCtx
	e.mu.Unlock()

	go e.eventLoop(loopCtx)
	logger.Info("engine started")
}

// Stop shuts down the event loop and pending timers. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		logger.Info("stopping engine...")
		e.stopped.Store(true)
		close(e.done)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.mainCancel != nil {
			e.mainCancel()
		}
		e.debouncer.Stop()
		logger.Info("engine stopped")
	})
}

func (e *Engine) eventLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event loop panic recovered: %v", r)
			go e.eventLoop(ctx)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.eventChan:
			// Wrap event handling in its own recovery
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("event handler panic recovered for event %v: %v", event.Type, r)
					}
				}()
				e.handleEvent(event)
			}()
		}
	}
}

func (e *Engine) handleEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped.Load() {
		return
	}

	logger.Debug("handle event: type=%s buf=%d state=%s", event.Type, event.Buf, e.state)

	handler, ok := eventHandlers[event.Type]
	if !ok {
		logger.Debug("no handler for event %s", event.Type)
		return
	}
	handler(e, event)
}

// post queues an event for the loop. It never waits on a running handler
// and gives up once the engine stops.
func (e *Engine) post(event Event) {
	if e.stopped.Load() {
		return
	}

	select {
	case e.eventChan <- event:
	case <-e.done:
	}
}

// HandleEditorEvent queues an event sent by the editor. Unknown names are
// dropped.
func (e *Engine) HandleEditorEvent(name string, bufnr int) {
	eventType := EventTypeFromString(name)
	if eventType == "" {
		logger.Debug("ignoring unknown editor event %q", name)
		return
	}
	e.post(Event{Type: eventType, Buf: bufnr})
}

// HandleEditorCommand validates and queues a command sent by the editor
func (e *Engine) HandleEditorCommand(name, arg string, bufnr int) error {
	kind, err := ParseCommandKind(name)
	if err != nil {
		return err
	}
	e.post(Event{Type: EventCommand, Buf: bufnr, Data: Command{Kind: kind, Arg: arg, Buf: bufnr}})
	return nil
}

// BaseChanged queues a refresh of every buffer after the reference content
// may have moved, e.g. a commit or checkout
func (e *Engine) BaseChanged() {
	e.post(Event{Type: EventBaseChanged})
}

// ClientChanged queues dropping all buffer state for a new editor connection
func (e *Engine) ClientChanged() {
	e.post(Event{Type: EventClientChanged})
}

// track registers bufnr as known without reading it
func (e *Engine) track(bufnr int) {
	if _, ok := e.buffers[bufnr]; !ok {
		e.buffers[bufnr] = ""
	}
}

// pathOpen reports whether any known buffer shows path
func (e *Engine) pathOpen(path string) bool {
	for _, p := range e.buffers {
		if p == path {
			return true
		}
	}
	return false
}

// opContext bounds one collaborator call
func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.mainCtx, e.config.RefreshTimeout)
}

func (e *Engine) notify(msg string, level buffer.Level) {
	if err := e.editor.Notify("gutterdiff: "+msg, level); err != nil {
		logger.Warn("error notifying editor: %v", err)
	}
}

// refreshOutcome is the classification of one buffer
type refreshOutcome struct {
	bufnr  int
	path   string
	result *text.Result // nil clears the path's markers
}

// computeBuffer reads bufnr and classifies it against source.
// Safe to call from several goroutines.
func (e *Engine) computeBuffer(ctx context.Context, source BaseSource, bufnr int) refreshOutcome {
	defer logger.Trace(fmt.Sprintf("refresh buffer %d", bufnr))()

	out := refreshOutcome{bufnr: bufnr}

	contents, err := e.editor.Read(bufnr)
	if err != nil {
		logger.Warn("error reading buffer %d: %v", bufnr, err)
		return out
	}
	out.path = contents.Path
	if out.path == "" {
		return out
	}

	base, err := source.Base(ctx, out.path)
	if err != nil {
		if isNoBase(err) {
			logger.Debug("no base for %s: %v", out.path, err)
		} else {
			logger.Warn("error fetching base for %s: %v", out.path, err)
		}
		return out
	}

	out.result = text.ClassifyBase(base, contents.Text())
	return out
}

// rebind records the path out.bufnr now shows. A buffer that lost its path
// (unreadable, renamed to a special buffer) loses its signs, and a path no
// buffer shows any more is dropped from the store through batch.
func (e *Engine) rebind(out refreshOutcome, batch map[string]*text.Result) {
	prev := e.buffers[out.bufnr]
	e.buffers[out.bufnr] = out.path
	if prev == "" || prev == out.path {
		return
	}

	if out.path == "" {
		if err := e.editor.Clear(out.bufnr); err != nil {
			logger.Debug("error clearing buffer %d: %v", out.bufnr, err)
		}
	}
	if !e.pathOpen(prev) {
		batch[prev] = nil
	}
}

func (e *Engine) refreshBuffer(bufnr int) {
	ctx, cancel := e.opContext()
	defer cancel()

	out := e.computeBuffer(ctx, e.source, bufnr)

	batch := make(map[string]*text.Result)
	e.rebind(out, batch)
	if out.path != "" {
		batch[out.path] = out.result
	}
	e.marks.Update(batch)
}

// refreshAll recomputes every known buffer concurrently and publishes the
// results as a single batch
func (e *Engine) refreshAll() {
	if e.state != stateEnabled || len(e.buffers) == 0 {
		return
	}
	defer logger.Trace("refresh all")()

	bufs := make([]int, 0, len(e.buffers))
	for bufnr := range e.buffers {
		bufs = append(bufs, bufnr)
	}
	slices.Sort(bufs)

	ctx, cancel := e.opContext()
	defer cancel()

	source := e.source
	outcomes := make([]refreshOutcome, len(bufs))

	var g errgroup.Group
	g.SetLimit(e.config.MaxParallel)
	for i, bufnr := range bufs {
		g.Go(func() error {
			outcomes[i] = e.computeBuffer(ctx, source, bufnr)
			return nil
		})
	}
	g.Wait()

	// Rebind everything first so a path that moved between buffers is
	// not dropped
	batch := make(map[string]*text.Result)
	for _, out := range outcomes {
		e.rebind(out, batch)
	}
	for _, out := range outcomes {
		if out.path != "" {
			batch[out.path] = out.result
		}
	}
	e.marks.Update(batch)
}

// render draws changed paths into every buffer showing them.
// Runs inside MarkStore.Update, on the event loop with e.mu held.
func (e *Engine) render(changed []string) {
	for _, path := range changed {
		result, _ := e.marks.Get(path)
		for bufnr, p := range e.buffers {
			if p != path {
				continue
			}
			var err error
			if result == nil {
				err = e.editor.Clear(bufnr)
			} else {
				err = e.editor.Render(bufnr, result)
			}
			if err != nil {
				logger.Warn("error drawing markers in buffer %d: %v", bufnr, err)
			}
		}
	}
}
