package engine

import (
	"strconv"

	"gutterdiff/buffer"
	"gutterdiff/logger"
	"gutterdiff/text"
)

type EventType string

// Event type constants
const (
	EventTextChanged EventType = "text_changed"
	EventBufEnter    EventType = "buf_enter"
	EventBufWrite    EventType = "buf_write"
	EventBufDelete   EventType = "buf_delete"

	// Internal events, never sent by the editor
	EventRefreshTimeout EventType = "refresh_timeout"
	EventBaseChanged    EventType = "base_changed"
	EventClientChanged  EventType = "client_changed"
	EventCommand        EventType = "command"
)

var eventTypeMap map[string]EventType

func init() {
	eventTypeMap = buildEventTypeMap()
}

// buildEventTypeMap indexes the events the editor may send
func buildEventTypeMap() map[string]EventType {
	eventMap := make(map[string]EventType)

	editorEventTypes := []EventType{
		EventTextChanged,
		EventBufEnter,
		EventBufWrite,
		EventBufDelete,
	}

	for _, eventType := range editorEventTypes {
		eventMap[string(eventType)] = eventType
	}

	return eventMap
}

// EventTypeFromString maps an editor event name to its EventType, or "" when
// the name is unknown or reserved for internal use
func EventTypeFromString(s string) EventType {
	if eventType, exists := eventTypeMap[s]; exists {
		return eventType
	}
	return ""
}

type Event struct {
	Type EventType
	Buf  int
	Data any
}

// eventHandlers routes every event type to its handler.
// Handlers run on the event loop with e.mu held.
var eventHandlers = map[EventType]func(*Engine, Event){
	EventTextChanged:    (*Engine).onTextChanged,
	EventBufEnter:       (*Engine).onBufRefresh,
	EventBufWrite:       (*Engine).onBufRefresh,
	EventBufDelete:      (*Engine).onBufDelete,
	EventRefreshTimeout: (*Engine).onRefreshTimeout,
	EventBaseChanged:    (*Engine).onBaseChanged,
	EventClientChanged:  (*Engine).onClientChanged,
	EventCommand:        (*Engine).onCommand,
}

func bufKey(bufnr int) string {
	return strconv.Itoa(bufnr)
}

func (e *Engine) onTextChanged(ev Event) {
	if e.state != stateEnabled {
		return
	}
	e.track(ev.Buf)

	bufnr := ev.Buf
	e.debouncer.Schedule(bufKey(bufnr), func() {
		e.post(Event{Type: EventRefreshTimeout, Buf: bufnr})
	})
}

func (e *Engine) onBufRefresh(ev Event) {
	e.debouncer.Cancel(bufKey(ev.Buf))
	e.track(ev.Buf)
	if e.state != stateEnabled {
		return
	}
	e.refreshBuffer(ev.Buf)
}

func (e *Engine) onRefreshTimeout(ev Event) {
	if _, known := e.buffers[ev.Buf]; !known || e.state != stateEnabled {
		return
	}
	e.refreshBuffer(ev.Buf)
}

func (e *Engine) onBufDelete(ev Event) {
	e.debouncer.Cancel(bufKey(ev.Buf))

	path, known := e.buffers[ev.Buf]
	if !known {
		return
	}
	delete(e.buffers, ev.Buf)

	if path == "" || e.pathOpen(path) {
		return
	}
	e.marks.Update(map[string]*text.Result{path: nil})
}

func (e *Engine) onBaseChanged(Event) {
	logger.Debug("base changed, refreshing %d buffers", len(e.buffers))
	e.git.Invalidate()
	e.refreshAll()
}

// onClientChanged forgets every buffer; numbers from a previous editor
// instance mean nothing to the new one
func (e *Engine) onClientChanged(Event) {
	e.debouncer.CancelAll()
	e.buffers = make(map[int]string)

	batch := make(map[string]*text.Result)
	for _, path := range e.marks.Paths() {
		batch[path] = nil
	}
	e.marks.Update(batch)
}

func (e *Engine) onCommand(ev Event) {
	cmd, ok := ev.Data.(Command)
	if !ok {
		logger.Error("command event without command: %v", ev.Data)
		return
	}
	if err := e.execute(cmd); err != nil {
		logger.Warn("command %s failed: %v", cmd.Kind, err)
		e.notify(cmd.Kind.String()+": "+err.Error(), buffer.LevelError)
	}
}
