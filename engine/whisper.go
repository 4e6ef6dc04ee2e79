package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"murmur/capture"
)

// Whisper runs passes through a local whisper.cpp model. One instance is
// safe for sequential use only; the coordinator serializes passes anyway.
type Whisper struct {
	model whisper.Model
}

func NewWhisper(modelPath string) (*Whisper, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading whisper model: %w", err)
	}
	return &Whisper{model: model}, nil
}

func (w *Whisper) Close() error {
	return w.model.Close()
}

func (w *Whisper) Run(ctx context.Context, samples []float32, opts Options, progress ProgressFunc) ([]Segment, Stats, error) {
	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("whisper context: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, Stats{}, fmt.Errorf("whisper language %q: %w", lang, err)
	}
	wctx.SetTranslate(false)
	wctx.SetTokenTimestamps(true)

	// The bindings have no clip-timestamp knob, so the confirmed prefix is
	// cut off the sample buffer and segment times are shifted back.
	clip := int(opts.ClipStart * capture.SampleRate)
	if clip < 0 {
		clip = 0
	}
	if clip > len(samples) {
		clip = len(samples)
	}
	window := samples[clip:]
	offset := float64(clip) / capture.SampleRate

	var stopped atomic.Bool
	var segments []Segment
	var text string
	var tokens []int
	var logProbSum float64

	onSegment := func(seg whisper.Segment) {
		if ctx.Err() != nil || stopped.Load() {
			return
		}
		segments = append(segments, Segment{
			Start: seg.Start.Seconds() + offset,
			End:   seg.End.Seconds() + offset,
			Text:  seg.Text,
		})
		if text != "" {
			text += " "
		}
		text += seg.Text
		for _, tok := range seg.Tokens {
			tokens = append(tokens, tok.Id)
			logProbSum += math.Log(math.Max(float64(tok.P), 1e-10))
		}
		if progress == nil {
			return
		}
		p := Progress{Text: text, Tokens: tokens}
		if len(tokens) > 0 {
			avg := logProbSum / float64(len(tokens))
			p.AvgLogProb = &avg
		}
		if progress(p) == StopLowConfidence {
			stopped.Store(true)
		}
	}

	// Abort before the next encoder window once the callback voted to
	// stop, or when the caller's context is gone.
	onEncoderBegin := func() bool {
		return ctx.Err() == nil && !stopped.Load()
	}

	start := time.Now()
	if err := wctx.Process(window, onEncoderBegin, onSegment, nil); err != nil {
		if stopped.Load() {
			// Aborted decode is a normal early stop, not a failure.
			return segments, passStats(start, len(tokens)), nil
		}
		if ctx.Err() != nil {
			return nil, Stats{}, ctx.Err()
		}
		return nil, Stats{}, fmt.Errorf("whisper process: %w", err)
	}
	return segments, passStats(start, len(tokens)), nil
}

func passStats(start time.Time, tokens int) Stats {
	elapsed := time.Since(start)
	stats := Stats{Decode: elapsed, Tokens: tokens}
	if secs := elapsed.Seconds(); secs > 0 {
		stats.TokensPerSecond = float64(tokens) / secs
	}
	return stats
}
