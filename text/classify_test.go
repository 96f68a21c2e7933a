package text

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyNoChange(t *testing.T) {
	texts := []string{
		"",
		"a\n",
		"a\nb\nc",
		"line 1\r\nline 2\r\n",
		"\n\n\n",
	}

	for _, text := range texts {
		result := ClassifyTexts(text, text)
		assert.True(t, result.IsEmpty(), fmt.Sprintf("identical text %q yields no markers", text))
	}
}

func TestClassifyNewFileVersusEmptyBase(t *testing.T) {
	current := "a\nb\nc\n"

	created := ClassifyBase(Base{Absent: true}, current)
	assert.Equal(t, []LineRange{{Start: 0, End: 2}}, created.Created, "absent base is a created file")
	assert.Empty(t, created.Added, "no added ranges for created file")
	assert.Empty(t, created.Removed, "no removed anchors for created file")
	assert.Empty(t, created.Changed, "no changed anchors for created file")

	added := ClassifyBase(Base{Text: ""}, current)
	assert.Equal(t, []LineRange{{Start: 0, End: 2}}, added.Added, "empty base yields one merged added range")
	assert.Empty(t, added.Created, "empty base is not a created file")
}

func TestClassifyNewFileEmptyText(t *testing.T) {
	result := ClassifyNewFile("")

	assert.Equal(t, []LineRange{{Start: 0, End: 0}}, result.Created, "empty new file still marks its single line")
}

func TestClassifyPureDeletionCollapses(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\nd\n", "a\nd\n")

	assert.Equal(t, []int{1}, result.Removed, "one anchor before d")
	assert.Empty(t, result.Added, "no additions")
	assert.Empty(t, result.Changed, "no changes")
}

func TestClassifyDeletionAtEnd(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\n", "a\n")

	assert.Equal(t, []int{1}, result.Removed, "anchor sits just past the last line")
	assert.Empty(t, result.Added, "no additions")
}

func TestClassifyDeletionAtStart(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\n", "c\n")

	assert.Equal(t, []int{0}, result.Removed, "anchor at first line")
}

func TestClassifyInPlaceEdit(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\n", "a\nX\nc\n")

	assert.Equal(t, []int{1}, result.Changed, "edited line is changed")
	assert.Empty(t, result.Added, "no additions")
	assert.Empty(t, result.Removed, "no removals")
}

func TestClassifyReplaceWithMoreLines(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\n", "a\nX\nY\nc\n")

	assert.Equal(t, []int{1}, result.Changed, "first replacement line is changed")
	assert.Equal(t, []LineRange{{Start: 2, End: 2}}, result.Added, "surplus line is added")
	assert.Empty(t, result.Removed, "no removals")
}

func TestClassifyReplaceWithFewerLines(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\nd\ne\n", "a\nX\ne\n")

	assert.Equal(t, []int{1}, result.Changed, "one changed anchor for the matched line")
	assert.Empty(t, result.Added, "no additions")
	assert.Empty(t, result.Removed, "surplus deletion is absorbed by the modification")
}

func TestClassifyAdjacentAdditionsMerge(t *testing.T) {
	result := ClassifyTexts("a\nd\n", "a\nb\nc\nd\n")

	assert.Equal(t, []LineRange{{Start: 1, End: 2}}, result.Added, "single merged range")
}

func TestClassifySeparateAdditions(t *testing.T) {
	result := ClassifyTexts("a\nc\ne\n", "a\nb\nc\nd\ne\n")

	assert.Equal(t, []LineRange{{Start: 1, End: 1}, {Start: 3, End: 3}}, result.Added, "two separate ranges")
}

func TestClassifyTrailingNewlineIgnored(t *testing.T) {
	assert.True(t, ClassifyTexts("a\nb", "a\nb\n").IsEmpty(), "adding a final newline is not a change")
	assert.True(t, ClassifyTexts("a\nb\n", "a\nb").IsEmpty(), "dropping a final newline is not a change")
	assert.True(t, ClassifyTexts("a\r\nb\r\n", "a\nb\n").IsEmpty(), "CRLF and LF are equivalent")
}

func TestClassifyTrailingEmptyLineSuppressed(t *testing.T) {
	result := ClassifyTexts("a\n", "a\n\n")

	assert.True(t, result.IsEmpty(), "newline-only insertion at end of file is an artifact")
}

func TestClassifyTrailingRealLineKept(t *testing.T) {
	result := ClassifyTexts("a\n", "a\nb\n")

	assert.Equal(t, []LineRange{{Start: 1, End: 1}}, result.Added, "real trailing line is added")
}

func TestClassifyWhitespaceAndCaseSignificant(t *testing.T) {
	assert.Equal(t, []int{0}, ClassifyTexts("foo\n", "Foo\n").Changed, "case change is a change")
	assert.Equal(t, []int{0}, ClassifyTexts("foo\n", "foo \n").Changed, "trailing space is a change")
}

func TestClassifyMixed(t *testing.T) {
	base := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n"
	current := "package main\n\nimport (\n\t\"fmt\"\n\t\"os\"\n)\n\nfunc main() {\n\tfmt.Println(\"hi\")\n\tos.Exit(0)\n}\n"

	result := ClassifyTexts(base, current)

	assert.Equal(t, []int{2}, result.Changed, "import line changed")
	assert.Equal(t, []LineRange{{Start: 3, End: 5}, {Start: 9, End: 9}}, result.Added, "import block and exit call added")
	assert.Empty(t, result.Removed, "no removals")
}

func TestClassifyRunsDirectly(t *testing.T) {
	// Unmerged runs from a caller still respect the single-anchor rule
	runs := []LineRun{
		{Op: RunEqual, Text: "a\n", Lines: 1},
		{Op: RunDelete, Text: "b\n", Lines: 1},
		{Op: RunDelete, Text: "c\n", Lines: 1},
		{Op: RunEqual, Text: "d\n", Lines: 1},
	}

	result := Classify(runs)

	assert.Equal(t, []int{1}, result.Removed, "consecutive delete runs collapse")
}

func TestClassifyInsertDeleteInsert(t *testing.T) {
	runs := []LineRun{
		{Op: RunInsert, Text: "x\n", Lines: 1},
		{Op: RunDelete, Text: "a\n", Lines: 1},
		{Op: RunInsert, Text: "y\nz\n", Lines: 2},
		{Op: RunEqual, Text: "b\n", Lines: 1},
	}

	result := Classify(runs)

	assert.Equal(t, []LineRange{{Start: 0, End: 0}, {Start: 2, End: 2}}, result.Added, "added before and after the changed line")
	assert.Equal(t, []int{1}, result.Changed, "paired line is changed")
	assertNoOverlap(t, result, 4)
}

func TestResultSummaryAndMarks(t *testing.T) {
	result := ClassifyTexts("a\nb\nc\nd\n", "a\nX\nY\nd\ne\n")

	summary := result.Summary()
	assert.Equal(t, 2, summary.Changed, "two changed lines")
	assert.Equal(t, 1, summary.Added, "one added line")

	marks := result.Marks()
	assert.Equal(t, []Mark{
		{Line: 1, Kind: MarkChanged},
		{Line: 2, Kind: MarkChanged},
		{Line: 4, Kind: MarkAdded},
	}, marks, "marks sorted by line")
}

func TestResultToLuaFormat(t *testing.T) {
	result := ClassifyTexts("a\nb\n", "a\nX\nc\n")

	lua := result.ToLuaFormat("path", "main.go")

	assert.Equal(t, "main.go", lua["path"], "additional field")
	assert.Equal(t, []int{1}, lua["changed"], "changed anchors")
	assert.Equal(t, []map[string]any{{"startLine": 2, "endLine": 2}}, lua["added"], "added ranges")
	assert.Equal(t, []int{}, lua["removed"], "empty list, not nil")
}

func TestClassifyNoOverlapRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	alphabet := []string{"a", "b", "c", "d", "", "}", "return nil"}

	for iter := range 500 {
		base := randomLines(rng, alphabet, rng.IntN(12))
		current := mutateLines(rng, base, alphabet)

		baseText := joinLines(base)
		currentText := joinLines(current)
		result := ClassifyTexts(baseText, currentText)

		t.Run(fmt.Sprintf("case_%d", iter), func(t *testing.T) {
			assertNoOverlap(t, result, LineCount(currentText))
		})
	}
}

// assertNoOverlap checks the structural invariants of a Result
func assertNoOverlap(t *testing.T, result *Result, lineCount int) {
	t.Helper()

	seen := make(map[int]string)
	claim := func(line int, kind string) {
		if prev, ok := seen[line]; ok {
			t.Errorf("line %d marked both %s and %s", line, prev, kind)
		}
		seen[line] = kind
	}

	for i, rng := range result.Added {
		assert.LessOrEqual(t, rng.Start, rng.End, "range is ordered")
		if i > 0 {
			assert.Greater(t, rng.Start, result.Added[i-1].End+1, "added ranges are maximal")
		}
		for line := rng.Start; line <= rng.End; line++ {
			claim(line, "added")
		}
		assert.Less(t, rng.End, lineCount, "added range within file")
	}
	for i, line := range result.Changed {
		if i > 0 {
			assert.Greater(t, line, result.Changed[i-1], "changed anchors sorted and unique")
		}
		claim(line, "changed")
	}
	for i, line := range result.Removed {
		if i > 0 {
			assert.Greater(t, line, result.Removed[i-1], "removed anchors sorted and unique")
		}
		assert.LessOrEqual(t, line, lineCount, "removed anchor at most one past the end")
		claim(line, "removed")
	}
	assert.Empty(t, result.Created, "generic path never creates")
}

func randomLines(rng *rand.Rand, alphabet []string, n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return lines
}

func mutateLines(rng *rand.Rand, lines []string, alphabet []string) []string {
	out := make([]string, 0, len(lines)+4)
	for _, line := range lines {
		switch rng.IntN(6) {
		case 0: // drop
		case 1: // replace
			out = append(out, alphabet[rng.IntN(len(alphabet))]+"'")
		case 2: // insert before
			out = append(out, alphabet[rng.IntN(len(alphabet))], line)
		default:
			out = append(out, line)
		}
	}
	if rng.IntN(3) == 0 {
		out = append(out, "tail")
	}
	return out
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
