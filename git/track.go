package git

import "strings"

const mergeBasePrefix = "merge-base:"

// DefaultTrack is the reference buffers are compared against when nothing
// else is configured
const DefaultTrack = "HEAD"

// TrackSpec names the reference point for a comparison: the first ref of
// Refs that resolves, or the merge-base of HEAD with it.
type TrackSpec struct {
	Refs      []string
	MergeBase bool
}

// ParseTrackSpec parses "main master" style fallback lists, optionally
// prefixed with "merge-base:". An empty spec tracks HEAD.
func ParseTrackSpec(s string) TrackSpec {
	s = strings.TrimSpace(s)

	var spec TrackSpec
	if rest, ok := strings.CutPrefix(s, mergeBasePrefix); ok {
		spec.MergeBase = true
		s = rest
	}

	spec.Refs = strings.Fields(s)
	if len(spec.Refs) == 0 {
		spec.Refs = []string{DefaultTrack}
	}
	return spec
}

// String renders the track spec back to its textual form
func (s TrackSpec) String() string {
	refs := strings.Join(s.Refs, " ")
	if s.MergeBase {
		return mergeBasePrefix + refs
	}
	return refs
}
