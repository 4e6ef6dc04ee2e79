package transcribe

import (
	"slices"

	"murmur/engine"
)

// State is the coordinator's complete observable condition. Confirmed is
// append-only and never reordered; LastConfirmedEnd only moves forward
// until a flush resets it together with the buffer.
type State struct {
	IsRecording   bool
	FallbackCount int
	// LastBufferSize is the buffer length, in samples, at the end of the
	// last completed pass.
	LastBufferSize int
	// LastConfirmedEnd is the end time, in seconds, of the newest
	// confirmed segment.
	LastConfirmedEnd float64
	// EnergyTrace holds recent relative-energy readings, one per capture
	// chunk, newest last.
	EnergyTrace []float64
	// PartialText is the in-flight decode's text so far.
	PartialText string
	Confirmed   []engine.Segment
	// Unconfirmed is the trailing provisional window of the latest pass,
	// replaced wholesale each time.
	Unconfirmed []engine.Segment
	// PartialHistory is a diagnostic trail of partial texts abandoned by
	// decoder resets within the current pass.
	PartialHistory []string
}

// Text flattens confirmed and unconfirmed segments into one transcript
// string, confirmed first.
func (s State) Text() string {
	var out string
	for _, seg := range s.Confirmed {
		out += seg.Text
	}
	for _, seg := range s.Unconfirmed {
		out += seg.Text
	}
	return out
}

func (s State) snapshot() State {
	s.EnergyTrace = slices.Clone(s.EnergyTrace)
	s.Confirmed = slices.Clone(s.Confirmed)
	s.Unconfirmed = slices.Clone(s.Unconfirmed)
	s.PartialHistory = slices.Clone(s.PartialHistory)
	return s
}

// Observer receives before/after snapshots of every state mutation.
type Observer func(prev, next State)

// set applies mutate to a copy of the current state, installs the copy,
// and then delivers (previous, next) snapshots to the observer before the
// loop goes on. The loop goroutine is the only caller once recording
// runs, so observers see every transition in order.
func (t *Transcriber) set(mutate func(*State)) {
	t.mu.Lock()
	prev := t.state.snapshot()
	next := t.state.snapshot()
	mutate(&next)
	t.state = next
	t.mu.Unlock()
	if t.observer != nil {
		t.observer(prev, next.snapshot())
	}
}

// State returns a snapshot safe to retain and mutate.
func (t *Transcriber) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.snapshot()
}

func (t *Transcriber) generation() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// sessionCurrent reports whether the session a pass started under is
// still the one recording.
func (t *Transcriber) sessionCurrent(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsRecording && t.gen == gen
}
