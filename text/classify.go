package text

// =============================================================================
// Classifier helper methods - SINGLE POINT for adding markers
// Dedup and range merging happen here so the pass below never has to care.
// =============================================================================

// classifier walks runs once, left to right, tracking the current-file cursor
type classifier struct {
	result *Result

	lineNumber int        // next current-file line
	added      *LineRange // open added range, nil when none

	removedAt    int // current-file line where pending deletions vanished
	removedCount int // base lines deleted and not yet resolved
}

// addLines records count inserted lines starting at start, extending the
// open added range when the new lines touch it.
func (c *classifier) addLines(start, count int) {
	if count <= 0 {
		return
	}
	end := start + count - 1
	if c.added != nil && start == c.added.End+1 {
		c.added.End = end
		return
	}
	c.flushAdded()
	c.added = &LineRange{Start: start, End: end}
}

// flushAdded moves the open added range into the result
func (c *classifier) flushAdded() {
	if c.added == nil {
		return
	}
	c.result.Added = append(c.result.Added, *c.added)
	c.added = nil
}

// addChanged adds a changed anchor, skipping duplicates.
// Anchors arrive in non-decreasing order so checking the tail is enough.
func (c *classifier) addChanged(line int) {
	if n := len(c.result.Changed); n > 0 && c.result.Changed[n-1] >= line {
		return
	}
	c.result.Changed = append(c.result.Changed, line)
}

// addRemoved adds a removed anchor, skipping duplicates
func (c *classifier) addRemoved(line int) {
	if n := len(c.result.Removed); n > 0 && c.result.Removed[n-1] >= line {
		return
	}
	c.result.Removed = append(c.result.Removed, line)
}

// resolveRemoval turns a pending deletion into a single removed anchor.
// Deleted lines have no position of their own, so one site gets one marker
// no matter how many lines went away.
func (c *classifier) resolveRemoval() {
	if c.removedCount == 0 {
		return
	}
	c.addRemoved(c.removedAt)
	c.removedCount = 0
}

// resolveModification pairs the pending deletion with count inserted lines
func (c *classifier) resolveModification(count int) {
	matched := min(count, c.removedCount)
	for i := range matched {
		c.addChanged(c.removedAt + i)
	}
	c.addLines(c.removedAt+matched, count-matched)
	c.removedCount = 0
}

// Classify reduces a run sequence to added ranges and removed/changed anchors.
// A deletion directly followed by an insertion reads as an in-place edit:
// the overlapping lines become changed anchors and only the surplus
// insertion is reported as added.
//
// runs must cover the whole current text; the last run decides whether a
// trailing newline-only insertion is an artifact.
func Classify(runs []LineRun) *Result {
	result, lineCount := classifyFrom(runs, 0)
	suppressTrailingNewline(result, runs, lineCount)
	return result
}

// classifyFrom runs the pass over runs whose first line is line start and
// returns the line after the last one they cover. It does not suppress
// end-of-file artifacts, so it also serves run streams that stop before the
// end of the file.
func classifyFrom(runs []LineRun, start int) (*Result, int) {
	c := &classifier{result: &Result{}, lineNumber: start}

	for i, run := range runs {
		if run.Lines <= 0 {
			continue
		}

		switch run.Op {
		case RunInsert:
			if c.removedCount > 0 {
				c.resolveModification(run.Lines)
			} else {
				c.addLines(c.lineNumber, run.Lines)
			}
			c.lineNumber += run.Lines

		case RunDelete:
			// Deleted lines occupy no space in the current file
			if c.removedCount == 0 {
				c.removedAt = c.lineNumber
			}
			c.removedCount += run.Lines

			if next, ok := nextRun(runs, i); !ok || (next.Op != RunInsert && next.Op != RunDelete) {
				c.resolveRemoval()
			}

		case RunEqual:
			c.resolveRemoval()
			c.flushAdded()
			c.lineNumber += run.Lines
		}
	}

	c.resolveRemoval()
	c.flushAdded()
	return c.result, c.lineNumber
}

// nextRun returns the first non-empty run after index i
func nextRun(runs []LineRun, i int) (LineRun, bool) {
	for _, run := range runs[i+1:] {
		if run.Lines > 0 {
			return run, true
		}
	}
	return LineRun{}, false
}

// suppressTrailingNewline drops a single added line sitting on the last
// line of the file when the insertion that produced it was nothing but a
// line ending.
func suppressTrailingNewline(result *Result, runs []LineRun, lineCount int) {
	if len(result.Added) == 0 || len(runs) == 0 {
		return
	}

	last := result.Added[len(result.Added)-1]
	if last.Start != last.End || last.End != lineCount-1 {
		return
	}

	lastRun := runs[len(runs)-1]
	if lastRun.Op != RunInsert {
		return
	}
	if lastRun.Text != "" && lastRun.Text != "\n" && lastRun.Text != "\r\n" {
		return
	}

	result.Added = result.Added[:len(result.Added)-1]
}

// ClassifyTexts classifies current against a base that exists (possibly empty)
func ClassifyTexts(base, current string) *Result {
	return Classify(ComputeLineRuns(base, current))
}

// ClassifyNewFile marks the whole of current as created.
// An empty text still shows as one line, the one an editor always displays.
func ClassifyNewFile(current string) *Result {
	return newFileResult(LineCount(current))
}

func newFileResult(lineCount int) *Result {
	lineCount = max(lineCount, 1)
	return &Result{
		Created: []LineRange{{Start: 0, End: lineCount - 1}},
	}
}

// ClassifyBase classifies current against base, taking the new-file path
// only when the base is absent rather than empty.
func ClassifyBase(base Base, current string) *Result {
	if base.Absent {
		return ClassifyNewFile(current)
	}
	return ClassifyTexts(base.Text, current)
}
