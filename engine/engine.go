package engine

import (
	"context"
	"time"
)

// Segment is one span of decoded speech. Segments are compared by value
// when callers guard against duplicate appends.
type Segment struct {
	Start float64 // seconds
	End   float64 // seconds
	Text  string
}

// Stats aggregates timing for one completed pass.
type Stats struct {
	Decode          time.Duration
	Tokens          int
	TokensPerSecond float64
}

// Progress is one decoding-step report delivered through the progress
// callback: the partial text so far, every token decoded so far, the
// cumulative fallback count, and the average log-probability when the
// backend exposes one.
type Progress struct {
	Text          string
	Tokens        []int
	FallbackCount int
	AvgLogProb    *float64
}

// Decision is the callback's verdict on whether decoding should continue.
type Decision int

const (
	Continue Decision = iota
	StopLowConfidence
)

type ProgressFunc func(Progress) Decision

// Options configures one pass. ClipStart marks how many seconds of the
// buffer are already confirmed; decoding resumes from there so confirmed
// audio is not re-decoded.
type Options struct {
	Language  string
	ClipStart float64
}

// Engine runs one transcription pass over the given 16 kHz mono samples.
// A StopLowConfidence verdict from the progress callback ends the pass
// early without error; output produced up to that point is still returned.
type Engine interface {
	Run(ctx context.Context, samples []float32, opts Options, progress ProgressFunc) ([]Segment, Stats, error)
}
