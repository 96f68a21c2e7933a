package text

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// RunOp is the diff tag carried by a LineRun
type RunOp int

const (
	RunEqual RunOp = iota
	RunInsert
	RunDelete
)

// String returns the string representation of RunOp
func (op RunOp) String() string {
	switch op {
	case RunEqual:
		return "equal"
	case RunInsert:
		return "insert"
	case RunDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// LineRun is a maximal block of consecutive lines sharing one diff tag.
// Text holds the literal lines (newline terminated); Lines is how many
// lines Text spans. Runs synthesized from a unified diff may carry a line
// count with no text for the unchanged stretches between hunks.
type LineRun struct {
	Op    RunOp
	Text  string
	Lines int
}

// splitLines splits text by newline and removes trailing empty element if present
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// countLines counts the lines in text without materializing them.
// The empty segment after a final newline is not a line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// normalizeText converts CRLF endings to LF and terminates the last line,
// so a missing final newline never reads as a changed line.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text
}

// LineCount returns the number of lines text occupies in an editor,
// treating \r\n and \n alike.
func LineCount(text string) int {
	return countLines(strings.ReplaceAll(text, "\r\n", "\n"))
}

// ComputeLineRuns diffs base against current line by line and returns the
// runs in document order. Equal+Insert runs rebuild the normalized current
// text, Equal+Delete runs rebuild the normalized base text.
func ComputeLineRuns(base, current string) []LineRun {
	base = normalizeText(base)
	current = normalizeText(current)

	if base == current {
		if current == "" {
			return nil
		}
		return []LineRun{{Op: RunEqual, Text: current, Lines: countLines(current)}}
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(base, current)
	diffs := dmp.DiffMain(chars1, chars2, false)
	lineDiffs := dmp.DiffCharsToLines(diffs, lineArray)

	runs := make([]LineRun, 0, len(lineDiffs))
	for _, diff := range lineDiffs {
		if diff.Text == "" {
			continue
		}
		runs = appendRun(runs, LineRun{
			Op:    runOpFromDiff(diff.Type),
			Text:  diff.Text,
			Lines: countLines(diff.Text),
		})
	}
	return runs
}

// appendRun appends run, merging it into the previous run when both carry the same tag
func appendRun(runs []LineRun, run LineRun) []LineRun {
	if run.Lines <= 0 {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Op == run.Op {
		runs[n-1].Text += run.Text
		runs[n-1].Lines += run.Lines
		return runs
	}
	return append(runs, run)
}

func runOpFromDiff(op diffmatchpatch.Operation) RunOp {
	switch op {
	case diffmatchpatch.DiffInsert:
		return RunInsert
	case diffmatchpatch.DiffDelete:
		return RunDelete
	default:
		return RunEqual
	}
}
