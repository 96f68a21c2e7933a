package buffer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/neovim/go-client/nvim"

	"gutterdiff/logger"
	"gutterdiff/text"
)

// DefaultPriority is the extmark priority of the signs, below diagnostics
const DefaultPriority = 6

// Level mirrors vim.log.levels
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// Contents is what the editor currently holds for one buffer
type Contents struct {
	ID       int
	Path     string // absolute file name, "" for special buffers
	Lines    []string
	Modified bool
}

// Text joins the lines the way the file would be written, with a final
// newline unless the buffer is empty
func (c *Contents) Text() string {
	if len(c.Lines) == 0 {
		return ""
	}
	return strings.Join(c.Lines, "\n") + "\n"
}

// Sign is the gutter text and highlight group of one mark kind
type Sign struct {
	Text      string
	Highlight string
}

type Config struct {
	NsID     int // 0 creates a "gutterdiff" namespace in EnsureNamespace
	Priority int
	Signs    map[text.MarkKind]Sign
}

// NvimEditor draws classification results as extmark signs
type NvimEditor struct {
	mu     sync.Mutex
	client *nvim.Nvim // stored internally, set via SetClient
	config Config
}

func New(config Config) *NvimEditor {
	if config.Priority == 0 {
		config.Priority = DefaultPriority
	}
	return &NvimEditor{config: config}
}

// SetClient stores the nvim client for all editor operations. The previous
// client, if any, is dropped.
func (b *NvimEditor) SetClient(n *nvim.Nvim) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = n
}

// EnsureNamespace creates the "gutterdiff" namespace when none was
// configured. Needs a served connection.
func (b *NvimEditor) EnsureNamespace() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return fmt.Errorf("nvim client not set")
	}
	if b.config.NsID != 0 {
		return nil
	}
	ns, err := b.client.CreateNamespace("gutterdiff")
	if err != nil {
		return fmt.Errorf("create namespace: %w", err)
	}
	b.config.NsID = ns
	return nil
}

func (b *NvimEditor) nvim() (*nvim.Nvim, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, 0, fmt.Errorf("nvim client not set")
	}
	return b.client, b.config.NsID, nil
}

// namespaced is nvim for operations that draw
func (b *NvimEditor) namespaced() (*nvim.Nvim, int, error) {
	client, ns, err := b.nvim()
	if err == nil && ns == 0 {
		err = fmt.Errorf("namespace not created yet")
	}
	return client, ns, err
}

// Read fetches the name, lines and modified flag of bufnr in one round-trip
func (b *NvimEditor) Read(bufnr int) (*Contents, error) {
	defer logger.Trace("buffer.Read")()
	client, _, err := b.nvim()
	if err != nil {
		return nil, err
	}

	buf := nvim.Buffer(bufnr)
	batch := client.NewBatch()

	var path string
	var lines [][]byte
	var info struct {
		Buftype  string `msgpack:"buftype"`
		Modified bool   `msgpack:"modified"`
	}

	batch.BufferName(buf, &path)
	batch.BufferLines(buf, 0, -1, false, &lines)
	batch.ExecLua(`
		local buf = ...
		return { buftype = vim.bo[buf].buftype, modified = vim.bo[buf].modified }
	`, &info, bufnr)

	if err := batch.Execute(); err != nil {
		logger.Error("error executing read batch for buffer %d: %v", bufnr, err)
		return nil, err
	}

	linesStr := make([]string, len(lines))
	for i, line := range lines {
		linesStr[i] = string(line)
	}

	// Terminals, help pages, scratch buffers and the like have no file
	if info.Buftype != "" {
		path = ""
	}

	return &Contents{
		ID:       bufnr,
		Path:     path,
		Lines:    linesStr,
		Modified: info.Modified,
	}, nil
}

// placement is one sign to draw
type placement struct {
	line int
	sign Sign
}

// placements converts result into signs for a buffer of lineCount lines.
// Anchors at or past the end are clamped to the last line; a line gets the
// first mark it receives in line order.
func (b *NvimEditor) placements(result *text.Result, lineCount int) []placement {
	if lineCount <= 0 {
		lineCount = 1
	}

	var out []placement
	taken := make(map[int]bool)
	for _, mark := range result.Marks() {
		line := max(0, min(mark.Line, lineCount-1))
		if taken[line] {
			continue
		}
		sign, ok := b.config.Signs[mark.Kind]
		if !ok {
			continue
		}
		taken[line] = true
		out = append(out, placement{line: line, sign: sign})
	}
	return out
}

// Render replaces the signs of bufnr with result and publishes the result
// as vim.b.gutterdiff for statuslines
func (b *NvimEditor) Render(bufnr int, result *text.Result) error {
	defer logger.Trace("buffer.Render")()
	client, ns, err := b.namespaced()
	if err != nil {
		return err
	}

	buf := nvim.Buffer(bufnr)
	lineCount, err := client.BufferLineCount(buf)
	if err != nil {
		return fmt.Errorf("line count of buffer %d: %w", bufnr, err)
	}

	batch := client.NewBatch()
	batch.ClearBufferNamespace(buf, ns, 0, -1)
	for _, p := range b.placements(result, lineCount) {
		var id int
		batch.SetBufferExtmark(buf, ns, p.line, 0, map[string]any{
			"sign_text":     p.sign.Text,
			"sign_hl_group": p.sign.Highlight,
			"priority":      b.config.Priority,
		}, &id)
	}
	batch.ExecLua(`
		local buf, status = ...
		if vim.api.nvim_buf_is_valid(buf) then
			vim.b[buf].gutterdiff = status
		end
	`, nil, bufnr, result.ToLuaFormat("bufnr", bufnr))

	if err := batch.Execute(); err != nil {
		logger.Error("error executing render batch for buffer %d: %v", bufnr, err)
		return err
	}
	return nil
}

// Clear removes every sign and the status variable of bufnr
func (b *NvimEditor) Clear(bufnr int) error {
	client, ns, err := b.namespaced()
	if err != nil {
		return err
	}

	buf := nvim.Buffer(bufnr)
	batch := client.NewBatch()
	batch.ClearBufferNamespace(buf, ns, 0, -1)
	batch.ExecLua(`
		local buf = ...
		if vim.api.nvim_buf_is_valid(buf) then
			vim.b[buf].gutterdiff = nil
		end
	`, nil, bufnr)
	return batch.Execute()
}

func (b *NvimEditor) Notify(msg string, level Level) error {
	client, _, err := b.nvim()
	if err != nil {
		return err
	}
	return client.ExecLua(`vim.notify(...)`, nil, msg, int(level))
}

// ShowList shows items in a scratch location list titled title
func (b *NvimEditor) ShowList(title string, items []string) error {
	client, _, err := b.nvim()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return b.Notify(title+": nothing to show", LevelInfo)
	}

	entries := make([]map[string]any, len(items))
	for i, item := range items {
		entries[i] = map[string]any{"text": item, "valid": 0}
	}
	return client.ExecLua(`
		local title, entries = ...
		vim.fn.setloclist(0, {}, " ", { title = title, items = entries })
		vim.cmd("lopen")
	`, nil, title, entries)
}

// RegisterHandlers exposes the gutterdiff_event and gutterdiff_command RPC
// methods to the editor
func (b *NvimEditor) RegisterHandlers(onEvent func(event string, bufnr int), onCommand func(kind, arg string, bufnr int) error) error {
	client, _, err := b.nvim()
	if err != nil {
		return err
	}

	if err := client.RegisterHandler("gutterdiff_event", func(_ *nvim.Nvim, event string, bufnr int) {
		onEvent(event, bufnr)
	}); err != nil {
		return err
	}
	return client.RegisterHandler("gutterdiff_command", func(_ *nvim.Nvim, kind, arg string, bufnr int) error {
		return onCommand(kind, arg, bufnr)
	})
}
