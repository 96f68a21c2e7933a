package text

import "sort"

// LineRange is an inclusive range of 0-based current-file lines
type LineRange struct {
	Start int
	End   int
}

// Len returns the number of lines covered by the range
func (r LineRange) Len() int {
	return r.End - r.Start + 1
}

// Base is the reference content a buffer is compared against.
// Absent means the file does not exist at the reference point, which is
// not the same thing as a file that exists and is empty.
type Base struct {
	Text   string
	Absent bool
}

// Result is the classification of every line of the current text.
// All positions are 0-based current-file lines. Added ranges are maximal,
// Removed and Changed anchors are sorted and unique, and Created is only
// ever set on its own.
type Result struct {
	Added   []LineRange
	Removed []int
	Changed []int
	Created []LineRange
}

// IsEmpty reports whether the result carries no markers at all
func (r *Result) IsEmpty() bool {
	return r == nil || (len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0 && len(r.Created) == 0)
}

// Summary holds marker counts for status display
type Summary struct {
	Added   int // added lines
	Changed int // changed anchors
	Removed int // removal sites
	Created int // lines of a wholly new file
}

// Summary counts the markers in the result
func (r *Result) Summary() Summary {
	var s Summary
	if r == nil {
		return s
	}
	for _, rng := range r.Added {
		s.Added += rng.Len()
	}
	for _, rng := range r.Created {
		s.Created += rng.Len()
	}
	s.Changed = len(r.Changed)
	s.Removed = len(r.Removed)
	return s
}

// MarkKind is the marker drawn for a single line
type MarkKind int

const (
	MarkAdded MarkKind = iota
	MarkChanged
	MarkRemoved
	MarkCreated
)

// String returns the string representation of MarkKind for Lua integration
func (k MarkKind) String() string {
	switch k {
	case MarkAdded:
		return "added"
	case MarkChanged:
		return "changed"
	case MarkRemoved:
		return "removed"
	case MarkCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Mark is one marked line
type Mark struct {
	Line int
	Kind MarkKind
}

// Marks flattens the result into one mark per line, sorted by line.
func (r *Result) Marks() []Mark {
	if r.IsEmpty() {
		return nil
	}

	var marks []Mark
	for _, rng := range r.Created {
		for line := rng.Start; line <= rng.End; line++ {
			marks = append(marks, Mark{Line: line, Kind: MarkCreated})
		}
	}
	for _, rng := range r.Added {
		for line := rng.Start; line <= rng.End; line++ {
			marks = append(marks, Mark{Line: line, Kind: MarkAdded})
		}
	}
	for _, line := range r.Changed {
		marks = append(marks, Mark{Line: line, Kind: MarkChanged})
	}
	for _, line := range r.Removed {
		marks = append(marks, Mark{Line: line, Kind: MarkRemoved})
	}

	sort.SliceStable(marks, func(i, j int) bool {
		return marks[i].Line < marks[j].Line
	})
	return marks
}

// ToLuaFormat converts a Result to a Lua-friendly map format.
// Line numbers stay 0-based to match the extmark API.
// Additional fields can be passed as key-value pairs: ToLuaFormat("path", "main.go")
func (r *Result) ToLuaFormat(additionalFields ...any) map[string]any {
	rangesToLua := func(ranges []LineRange) []map[string]any {
		out := make([]map[string]any, 0, len(ranges))
		for _, rng := range ranges {
			out = append(out, map[string]any{"startLine": rng.Start, "endLine": rng.End})
		}
		return out
	}

	var added, created []LineRange
	removed, changed := []int{}, []int{}
	if r != nil {
		added, created = r.Added, r.Created
		removed = append(removed, r.Removed...)
		changed = append(changed, r.Changed...)
	}

	summary := r.Summary()
	luaFormat := map[string]any{
		"added":   rangesToLua(added),
		"removed": removed,
		"changed": changed,
		"created": rangesToLua(created),
		"summary": map[string]any{
			"added":   summary.Added,
			"changed": summary.Changed,
			"removed": summary.Removed,
			"created": summary.Created,
		},
	}

	for i := 0; i < len(additionalFields)-1; i += 2 {
		if key, ok := additionalFields[i].(string); ok {
			luaFormat[key] = additionalFields[i+1]
		}
	}

	return luaFormat
}
