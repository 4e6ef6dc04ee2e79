package engine

import (
	"context"
	"sync"
	"time"
)

// FakePass scripts one Run invocation of the fake engine: progress events
// replayed through the callback, then either an error or the segments.
type FakePass struct {
	Events   []Progress
	Segments []Segment
	Err      error
	// Block, when non-nil, is received from before the pass returns, so a
	// test can hold a pass in flight.
	Block <-chan struct{}
}

// Fake is a scripted engine for tests, in the spirit of the scripted
// capture device: passes are enqueued up front, calls and callback
// verdicts are recorded for inspection.
type Fake struct {
	mu        sync.Mutex
	passes    []FakePass
	calls     []Options
	decisions []Decision
}

func NewFakeEngine() *Fake {
	return &Fake{}
}

func (f *Fake) Enqueue(pass FakePass) {
	f.mu.Lock()
	f.passes = append(f.passes, pass)
	f.mu.Unlock()
}

// EnqueueSegments scripts a plain pass with no progress events.
func (f *Fake) EnqueueSegments(segments ...Segment) {
	f.Enqueue(FakePass{Segments: segments})
}

func (f *Fake) Run(ctx context.Context, _ []float32, opts Options, progress ProgressFunc) ([]Segment, Stats, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	var pass FakePass
	if len(f.passes) > 0 {
		pass = f.passes[0]
		f.passes = f.passes[1:]
	}
	f.mu.Unlock()

	start := time.Now()
	for _, ev := range pass.Events {
		if progress == nil {
			break
		}
		d := progress(ev)
		f.mu.Lock()
		f.decisions = append(f.decisions, d)
		f.mu.Unlock()
		if d == StopLowConfidence {
			// Early stop ends replay; the scripted output still stands in
			// for whatever was decoded up to that point.
			break
		}
	}

	if pass.Block != nil {
		select {
		case <-pass.Block:
		case <-ctx.Done():
			return nil, Stats{}, ctx.Err()
		}
	}
	if pass.Err != nil {
		return nil, Stats{}, pass.Err
	}
	return pass.Segments, passStats(start, totalTokens(pass.Events)), nil
}

// Calls returns the Options of every Run invocation so far.
func (f *Fake) Calls() []Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Options, len(f.calls))
	copy(out, f.calls)
	return out
}

// Decisions returns the verdicts the progress callback produced, in order.
func (f *Fake) Decisions() []Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Decision, len(f.decisions))
	copy(out, f.decisions)
	return out
}

func totalTokens(events []Progress) int {
	n := 0
	for _, ev := range events {
		if len(ev.Tokens) > n {
			n = len(ev.Tokens)
		}
	}
	return n
}
