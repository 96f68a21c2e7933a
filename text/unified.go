package text

import (
	"bufio"
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	diffHeaderRe = regexp.MustCompile(`^diff --git a/(.+) b/(.+)$`)
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

// devNull is the path unified diffs use for the missing side of a file
const devNull = "/dev/null"

// maxDiffLineSize bounds a single scanned diff line
const maxDiffLineSize = 16 * 1024 * 1024

// metadataPrefixes are extended header lines that never touch line numbering
var metadataPrefixes = []string{
	"index ",
	"new file mode",
	"deleted file mode",
	"old mode",
	"new mode",
	"similarity index",
	"dissimilarity index",
	"rename from",
	"rename to",
	"copy from",
	"copy to",
	"Binary files",
}

// FileResult is the classification of one file section of a unified diff
type FileResult struct {
	OldPath string
	NewPath string
	NewFile bool
	Result  *Result
}

// Path returns the name the file has in the current tree, falling back to
// the old name for deletions.
func (f FileResult) Path() string {
	if f.NewPath != "" && f.NewPath != devNull {
		return f.NewPath
	}
	return f.OldPath
}

// ClassifyUnifiedDiff classifies the first file section of a unified diff.
// Hunks are replayed as line runs through the same pass as Classify, so the
// result follows the same merging and tie-break rules as ClassifyTexts.
// A diff does not say where the file ends, so a trailing blank line is
// always reported as added.
func ClassifyUnifiedDiff(diff string) *Result {
	files := ClassifyUnifiedDiffFiles(diff)
	if len(files) == 0 {
		return &Result{}
	}
	return files[0].Result
}

// ClassifyUnifiedDiffFiles classifies every file section of a (possibly
// multi-file) unified diff, in the order they appear.
func ClassifyUnifiedDiffFiles(diff string) []FileResult {
	if diff == "" {
		return nil
	}

	p := &unifiedParser{}
	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), maxDiffLineSize)

	for scanner.Scan() {
		p.parseLine(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	// A truncated diff still yields whatever was parsed so far
	p.finishSection()

	return p.files
}

// runSegment is a stretch of runs that starts at target line start
type runSegment struct {
	start int
	runs  []LineRun
}

// unifiedSection accumulates the runs of one file. Hunks normally continue
// the current segment; a hunk placed before the cursor opens a new one.
type unifiedSection struct {
	oldPath  string
	newPath  string
	newFile  bool
	segments []runSegment
	cursor   int // next target line, 0-based
	extent   int // highest target line count reached
	hasHunks bool
}

// segment returns the open segment, starting one at the cursor if needed
func (s *unifiedSection) segment() *runSegment {
	if len(s.segments) == 0 {
		s.segments = append(s.segments, runSegment{start: s.cursor})
	}
	return &s.segments[len(s.segments)-1]
}

type unifiedParser struct {
	files   []FileResult
	section *unifiedSection

	// lines still expected by the current hunk body, per side
	oldRemaining int
	newRemaining int
}

func (p *unifiedParser) inHunkBody() bool {
	return p.oldRemaining > 0 || p.newRemaining > 0
}

// current returns the open section, opening an anonymous one for diffs
// that start straight at a hunk or a ---/+++ pair
func (p *unifiedParser) current() *unifiedSection {
	if p.section == nil {
		p.section = &unifiedSection{}
	}
	return p.section
}

func (p *unifiedParser) startSection(oldPath, newPath string) {
	p.finishSection()
	p.section = &unifiedSection{oldPath: oldPath, newPath: newPath}
}

func (p *unifiedParser) finishSection() {
	s := p.section
	if s == nil {
		return
	}
	p.section = nil
	p.oldRemaining, p.newRemaining = 0, 0

	var result *Result
	if s.newFile {
		result = newFileResult(s.extent)
	} else {
		result = classifySegments(s.segments)
	}

	p.files = append(p.files, FileResult{
		OldPath: s.oldPath,
		NewPath: s.newPath,
		NewFile: s.newFile,
		Result:  result,
	})
}

func (p *unifiedParser) parseLine(line string) {
	if m := diffHeaderRe.FindStringSubmatch(line); m != nil {
		p.startSection(m[1], m[2])
		return
	}

	if strings.HasPrefix(line, "@@") {
		// An unparseable header cannot be placed on the target side
		p.parseHunkHeader(line)
		return
	}

	if !p.inHunkBody() && p.parseFileHeader(line) {
		return
	}

	switch {
	case strings.HasPrefix(line, "+"):
		p.newRemaining--
		p.addRun(RunInsert, line[1:])
	case strings.HasPrefix(line, "-"):
		p.oldRemaining--
		p.addRun(RunDelete, line[1:])
	case strings.HasPrefix(line, `\`):
		// "\ No newline at end of file"
	case strings.HasPrefix(line, " "):
		p.oldRemaining--
		p.newRemaining--
		p.addRun(RunEqual, line[1:])
	default:
		// Outside a hunk there is no target line to place it on
		if !p.inHunkBody() {
			return
		}
		// Blank or garbage line inside a hunk: treat as context
		p.oldRemaining--
		p.newRemaining--
		p.addRun(RunEqual, line)
	}
}

// parseFileHeader handles ---/+++ and extended header lines outside hunk
// bodies. Returns false when the line is not header material.
func (p *unifiedParser) parseFileHeader(line string) bool {
	if name, ok := strings.CutPrefix(line, "--- "); ok {
		// Plain concatenated diffs have no "diff --git" separator
		if p.section != nil && p.section.hasHunks {
			p.startSection("", "")
		}
		s := p.current()
		s.oldPath = parseFileName(name)
		if s.oldPath == devNull {
			s.newFile = true
		}
		return true
	}

	if name, ok := strings.CutPrefix(line, "+++ "); ok {
		p.current().newPath = parseFileName(name)
		return true
	}

	for _, prefix := range metadataPrefixes {
		if strings.HasPrefix(line, prefix) {
			if prefix == "new file mode" {
				p.current().newFile = true
			}
			return true
		}
	}
	return false
}

// parseHunkHeader positions the target cursor from "@@ -a,b +c,d @@".
// Lines skipped between hunks are replayed as one unchanged run.
func (p *unifiedParser) parseHunkHeader(line string) bool {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}

	oldCount := parseCount(m[2])
	newStart, err := strconv.Atoi(m[3])
	if err != nil {
		return false
	}
	newCount := parseCount(m[4])

	// A zero-length target side names the line after which lines vanished
	start := newStart - 1
	if newCount == 0 {
		start = newStart
	}

	s := p.current()
	s.hasHunks = true
	switch gap := start - s.cursor; {
	case len(s.segments) == 0:
		s.segments = append(s.segments, runSegment{start: start})
	case gap > 0:
		seg := s.segment()
		seg.runs = appendRun(seg.runs, LineRun{Op: RunEqual, Lines: gap})
	case gap < 0:
		// Out-of-order header: restart at the line it names
		s.segments = append(s.segments, runSegment{start: start})
	}
	s.cursor = start

	p.oldRemaining = oldCount
	p.newRemaining = newCount
	return true
}

// addRun appends one line of the given tag to the open section
func (p *unifiedParser) addRun(op RunOp, content string) {
	s := p.current()
	seg := s.segment()
	seg.runs = appendRun(seg.runs, LineRun{Op: op, Text: content + "\n", Lines: 1})
	if op != RunDelete {
		s.cursor++
		s.extent = max(s.extent, s.cursor)
	}
}

// classifySegments classifies each segment and merges the results
func classifySegments(segments []runSegment) *Result {
	if len(segments) == 0 {
		return &Result{}
	}
	if len(segments) == 1 {
		result, _ := classifyFrom(segments[0].runs, segments[0].start)
		return result
	}

	merged := &Result{}
	for _, seg := range segments {
		r, _ := classifyFrom(seg.runs, seg.start)
		merged.Added = append(merged.Added, r.Added...)
		merged.Removed = append(merged.Removed, r.Removed...)
		merged.Changed = append(merged.Changed, r.Changed...)
	}

	slices.Sort(merged.Removed)
	merged.Removed = slices.Compact(merged.Removed)
	slices.Sort(merged.Changed)
	merged.Changed = slices.Compact(merged.Changed)
	merged.Added = mergeRanges(merged.Added)
	return merged
}

// mergeRanges sorts ranges and joins the ones that overlap or touch
func mergeRanges(ranges []LineRange) []LineRange {
	if len(ranges) < 2 {
		return ranges
	}
	slices.SortFunc(ranges, func(a, b LineRange) int { return cmp.Compare(a.Start, b.Start) })

	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End+1 {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseCount parses the optional length of a hunk range, which defaults to 1
func parseCount(s string) int {
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 1
	}
	return n
}

// parseFileName extracts the file name from a --- or +++ line value.
// Handles "a/path", "b/path", "/dev/null" and trailing timestamps.
func parseFileName(s string) string {
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == devNull {
		return devNull
	}
	if strings.HasPrefix(s, "a/") || strings.HasPrefix(s, "b/") {
		return s[2:]
	}
	return s
}
