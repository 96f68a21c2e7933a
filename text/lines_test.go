package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeLineRunsReconstructsBothSides(t *testing.T) {
	base := "one\ntwo\nthree\nfour\n"
	current := "one\n2\nthree\nfour\nfive"

	runs := ComputeLineRuns(base, current)

	var rebuiltBase, rebuiltCurrent strings.Builder
	for _, run := range runs {
		assert.Equal(t, countLines(run.Text), run.Lines, "line count matches text")
		switch run.Op {
		case RunEqual:
			rebuiltBase.WriteString(run.Text)
			rebuiltCurrent.WriteString(run.Text)
		case RunDelete:
			rebuiltBase.WriteString(run.Text)
		case RunInsert:
			rebuiltCurrent.WriteString(run.Text)
		}
	}

	assert.Equal(t, normalizeText(base), rebuiltBase.String(), "equal+delete rebuilds base")
	assert.Equal(t, normalizeText(current), rebuiltCurrent.String(), "equal+insert rebuilds current")
}

func TestComputeLineRunsMergesSameTag(t *testing.T) {
	runs := ComputeLineRuns("a\nb\n", "x\ny\n")

	for i := 1; i < len(runs); i++ {
		assert.NotEqual(t, runs[i-1].Op, runs[i].Op, "adjacent runs carry different tags")
	}
}

func TestComputeLineRunsIdentical(t *testing.T) {
	assert.Nil(t, ComputeLineRuns("", ""), "nothing to diff")

	runs := ComputeLineRuns("a\r\nb", "a\nb\n")
	assert.Equal(t, []LineRun{{Op: RunEqual, Text: "a\nb\n", Lines: 2}}, runs, "line endings normalized")
}

func TestLineCount(t *testing.T) {
	cases := map[string]int{
		"":          0,
		"a":         1,
		"a\n":       1,
		"a\nb":      2,
		"a\r\nb\r\n": 2,
		"\n":        1,
		"\n\n":      2,
	}

	for text, expected := range cases {
		assert.Equal(t, expected, LineCount(text), "line count of %q", text)
	}
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb\n"), "trailing empty element dropped")
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"), "inner empty line kept")
}

func TestRunOpString(t *testing.T) {
	assert.Equal(t, "equal", RunEqual.String(), "equal")
	assert.Equal(t, "insert", RunInsert.String(), "insert")
	assert.Equal(t, "delete", RunDelete.String(), "delete")
	assert.Equal(t, "unknown", RunOp(42).String(), "unknown")
}
