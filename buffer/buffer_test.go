package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gutterdiff/text"
)

func testSigns() map[text.MarkKind]Sign {
	return map[text.MarkKind]Sign{
		text.MarkAdded:   {Text: "+", Highlight: "Add"},
		text.MarkChanged: {Text: "~", Highlight: "Change"},
		text.MarkRemoved: {Text: "_", Highlight: "Delete"},
		text.MarkCreated: {Text: "#", Highlight: "Created"},
	}
}

func TestContentsText(t *testing.T) {
	tests := []struct {
		lines []string
		want  string
	}{
		{nil, ""},
		{[]string{""}, "\n"},
		{[]string{"a"}, "a\n"},
		{[]string{"a", "b"}, "a\nb\n"},
	}

	for _, tt := range tests {
		c := &Contents{Lines: tt.lines}
		assert.Equal(t, tt.want, c.Text(), "Text of %q", tt.lines)
	}
}

func TestNewDefaultsPriority(t *testing.T) {
	ed := New(Config{NsID: 1})
	assert.Equal(t, DefaultPriority, ed.config.Priority, "default priority")

	ed = New(Config{NsID: 1, Priority: 20})
	assert.Equal(t, 20, ed.config.Priority, "explicit priority kept")
}

func TestPlacements(t *testing.T) {
	ed := New(Config{NsID: 1, Signs: testSigns()})

	result := &text.Result{
		Added:   []text.LineRange{{Start: 3, End: 4}},
		Changed: []int{1},
		Removed: []int{0},
	}
	got := ed.placements(result, 10)

	want := []placement{
		{line: 0, sign: Sign{Text: "_", Highlight: "Delete"}},
		{line: 1, sign: Sign{Text: "~", Highlight: "Change"}},
		{line: 3, sign: Sign{Text: "+", Highlight: "Add"}},
		{line: 4, sign: Sign{Text: "+", Highlight: "Add"}},
	}
	assert.Equal(t, want, got, "placements")
}

func TestPlacementsClampRemovedAtEnd(t *testing.T) {
	ed := New(Config{NsID: 1, Signs: testSigns()})

	// Trailing lines deleted: the anchor sits one past the last line
	result := &text.Result{Removed: []int{2}}
	got := ed.placements(result, 2)

	assert.Equal(t, []placement{{line: 1, sign: Sign{Text: "_", Highlight: "Delete"}}}, got, "clamped to last line")
}

func TestPlacementsClampCollision(t *testing.T) {
	ed := New(Config{NsID: 1, Signs: testSigns()})

	result := &text.Result{Changed: []int{1}, Removed: []int{2}}
	got := ed.placements(result, 2)

	assert.Len(t, got, 1, "one sign per line")
	assert.Equal(t, "~", got[0].sign.Text, "first mark wins")
}

func TestPlacementsEmptyBuffer(t *testing.T) {
	ed := New(Config{NsID: 1, Signs: testSigns()})

	result := &text.Result{Removed: []int{0}}
	got := ed.placements(result, 0)

	assert.Equal(t, []placement{{line: 0, sign: Sign{Text: "_", Highlight: "Delete"}}}, got, "empty buffer still shows the removal")
}

func TestPlacementsCreated(t *testing.T) {
	ed := New(Config{NsID: 1, Signs: testSigns()})

	result := text.ClassifyNewFile("a\nb\n")
	got := ed.placements(result, 2)

	assert.Len(t, got, 2, "one sign per created line")
	for i, p := range got {
		assert.Equal(t, i, p.line, "line")
		assert.Equal(t, "#", p.sign.Text, "created sign")
	}
}

func TestPlacementsNilAndMissingSign(t *testing.T) {
	ed := New(Config{NsID: 1, Signs: map[text.MarkKind]Sign{text.MarkAdded: {Text: "+"}}})

	assert.Empty(t, ed.placements(nil, 5), "nil result")

	result := &text.Result{Changed: []int{0}, Added: []text.LineRange{{Start: 1, End: 1}}}
	got := ed.placements(result, 5)
	assert.Equal(t, []placement{{line: 1, sign: Sign{Text: "+"}}}, got, "kinds without a sign are skipped")
}

func TestEditorWithoutClient(t *testing.T) {
	ed := New(Config{NsID: 1})

	_, err := ed.Read(1)
	assert.Error(t, err, "Read")
	assert.Error(t, ed.Render(1, &text.Result{}), "Render")
	assert.Error(t, ed.Clear(1), "Clear")
	assert.Error(t, ed.Notify("x", LevelInfo), "Notify")
	assert.Error(t, ed.ShowList("x", nil), "ShowList")
}
