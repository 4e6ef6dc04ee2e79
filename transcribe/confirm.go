package transcribe

import (
	"slices"

	"murmur/engine"
)

// confirm reconciles one completed pass into the confirmed/unconfirmed
// split. The trailing RequiredSegments segments stay provisional: they
// are the ones more audio context is most likely to revise.
func (t *Transcriber) confirm(segments []engine.Segment) {
	required := t.cfg.RequiredSegments
	if len(segments) <= required {
		t.set(func(s *State) {
			s.Unconfirmed = slices.Clone(segments)
		})
		return
	}

	confirmable := segments[:len(segments)-required]
	remaining := segments[len(segments)-required:]
	t.set(func(s *State) {
		last := confirmable[len(confirmable)-1].End
		if last > s.LastConfirmedEnd {
			s.LastConfirmedEnd = last
			// Overlapping re-decodes can hand back a sequence that was
			// already committed; only an exact repeat is suppressed.
			if !containsRun(s.Confirmed, confirmable) {
				s.Confirmed = append(s.Confirmed, confirmable...)
			}
		}
		s.Unconfirmed = slices.Clone(remaining)
	})
}

// containsRun reports whether haystack contains needle as a contiguous
// run, comparing segments by value.
func containsRun(haystack, needle []engine.Segment) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
