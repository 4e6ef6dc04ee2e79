// Package transcribe turns a live, growing capture buffer into an
// evolving transcript split into confirmed and unconfirmed segments. A
// single control-loop goroutine owns all mutable state: it polls the
// buffer, gates on voice activity, invokes the engine with an early-stop
// heuristic, and reconciles each pass's output.
package transcribe

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"murmur/capture"
	"murmur/engine"
)

// placeholderText fills the partial-text slot while nothing is decoding.
const placeholderText = "Waiting for speech..."

// maxEnergyTrace bounds the retained trace; the gate only ever reads a
// trailing window of it.
const maxEnergyTrace = 600

type Transcriber struct {
	cfg      Config
	mic      capture.Device
	eng      engine.Engine
	observer Observer
	log      zerolog.Logger

	// energyCh hands capture-context energy readings into the loop.
	energyCh chan float64

	mu       sync.Mutex
	state    State
	loopDone chan struct{}
	// gen counts sessions. A pass commits its result only if the session
	// it started under is still the current one, so a Stop/Start during a
	// long decode cannot resurrect the stale result.
	gen int
}

func New(mic capture.Device, eng engine.Engine, cfg Config) *Transcriber {
	cfg = cfg.withDefaults()
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Transcriber{
		cfg:      cfg,
		mic:      mic,
		eng:      eng,
		observer: cfg.Observer,
		log:      logger,
		energyCh: make(chan float64, 256),
	}
}

// Start begins live transcription and returns once the control loop is
// running. Calling it while already recording is a no-op. A denied
// capture permission is logged and reported as a nil error: the session
// simply does not start.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state.IsRecording {
		t.mu.Unlock()
		t.log.Debug().Msg("start ignored: already recording")
		return nil
	}
	prevDone := t.loopDone
	t.mu.Unlock()

	// A previous session's loop may still be inside a pass; wait it out so
	// the new session never has a second writer alongside it.
	if prevDone != nil {
		<-prevDone
	}

	granted, err := t.mic.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("requesting capture permission: %w", err)
	}
	if !granted {
		t.log.Error().Msg("capture permission denied")
		return nil
	}

	if err := t.mic.Start(t.pushEnergy); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}

	t.set(func(s *State) { s.IsRecording = true })

	done := make(chan struct{})
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.loopDone = done
	t.mu.Unlock()
	go t.loop(ctx, done, gen)
	return nil
}

// Stop ends the session and releases the capture device. An in-flight
// pass is not interrupted; its result is discarded once it completes.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	if !t.state.IsRecording {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.set(func(s *State) { s.IsRecording = false })
	t.mic.Stop()
	t.log.Info().Msg("recording stopped")
}

// Done is closed once the control loop goroutine has exited.
func (t *Transcriber) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loopDone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.loopDone
}

// pushEnergy hands one capture-context energy reading into the loop's
// domain. The channel is drained every cycle; if the loop falls behind,
// readings are dropped rather than blocking the capture context.
func (t *Transcriber) pushEnergy(level float64) {
	select {
	case t.energyCh <- level:
	default:
	}
}

func (t *Transcriber) loop(ctx context.Context, done chan struct{}, gen int) {
	defer close(done)
	t.log.Info().Msg("transcription loop running")
	for {
		if ctx.Err() != nil {
			t.Stop()
			return
		}
		if !t.sessionCurrent(gen) {
			t.log.Debug().Msg("transcription loop exiting")
			return
		}
		t.drainEnergy()
		if err := t.cycle(ctx); err != nil {
			// A failed pass is fatal to the session; force a consistent
			// stopped state rather than leaving the recording flag up.
			t.log.Error().Err(err).Msg("transcription pass failed, stopping")
			t.Stop()
			return
		}
	}
}

func (t *Transcriber) drainEnergy() {
	var levels []float64
	for {
		select {
		case l := <-t.energyCh:
			levels = append(levels, l)
		default:
			if len(levels) == 0 {
				return
			}
			t.set(func(s *State) {
				s.EnergyTrace = append(s.EnergyTrace, levels...)
				if n := len(s.EnergyTrace); n > maxEnergyTrace {
					s.EnergyTrace = s.EnergyTrace[n-maxEnergyTrace:]
				}
			})
			return
		}
	}
}

// cycle is one loop iteration: it either runs a transcription pass or
// ends with the placeholder text and a timed sleep.
func (t *Transcriber) cycle(ctx context.Context) error {
	gen := t.generation()
	buf := t.mic.Buffer()
	st := t.State()
	newAudio := float64(len(buf)-st.LastBufferSize) / capture.SampleRate

	if newAudio < t.cfg.MinNewAudio.Seconds() {
		t.placeholder()
		t.sleep(ctx)
		return nil
	}

	if !t.voiceDetected(ctx, buf, newAudio) {
		if newAudio > t.cfg.FlushSilence.Seconds() && len(st.Unconfirmed) > 0 {
			if err := t.flush(ctx, buf, gen); err != nil {
				return err
			}
		}
		t.placeholder()
		t.sleep(ctx)
		return nil
	}

	segments, err := t.runPass(ctx, buf)
	if err != nil {
		return err
	}
	if !t.sessionCurrent(gen) {
		t.log.Debug().Msg("discarding pass result after stop")
		return nil
	}
	t.set(func(s *State) { s.LastBufferSize = len(buf) })
	t.confirm(segments)
	return nil
}

// runPass performs one engine invocation over the buffer, clipped past
// already-confirmed audio. Partial-text bookkeeping starts fresh.
func (t *Transcriber) runPass(ctx context.Context, buf []float32) ([]engine.Segment, error) {
	t.set(func(s *State) {
		s.PartialText = ""
		s.PartialHistory = nil
	})

	clip := t.State().LastConfirmedEnd
	opts := engine.Options{Language: t.cfg.Language, ClipStart: clip}
	segments, stats, err := t.eng.Run(ctx, buf, opts, t.onProgress)
	if err != nil {
		return nil, err
	}
	t.log.Debug().
		Int("segments", len(segments)).
		Float64("clip_start", clip).
		Dur("decode", stats.Decode).
		Float64("tok_per_s", stats.TokensPerSecond).
		Msg("pass complete")
	return segments, nil
}

// flush promotes pending provisional output after sustained silence, then
// drops the whole buffer so growth stays bounded. The pass deliberately
// re-reads the entire buffer: one clean decode over the finished
// utterance beats stitching provisional windows.
func (t *Transcriber) flush(ctx context.Context, buf []float32, gen int) error {
	t.log.Debug().Int("unconfirmed", len(t.State().Unconfirmed)).Msg("silence flush")
	segments, err := t.runPass(ctx, buf)
	if err != nil {
		return err
	}
	if !t.sessionCurrent(gen) {
		return nil
	}
	t.set(func(s *State) {
		if len(segments) > 0 {
			s.Confirmed = append(s.Confirmed, segments...)
		} else {
			// Trust the last provisional read over an empty fresh one.
			s.Confirmed = append(s.Confirmed, s.Unconfirmed...)
		}
		s.LastConfirmedEnd = 0
		s.LastBufferSize = 0
		s.Unconfirmed = nil
	})
	t.mic.Purge(0)
	return nil
}

// onProgress is the per-decoding-step callback: it keeps the partial-text
// trail and votes on early termination.
func (t *Transcriber) onProgress(p engine.Progress) engine.Decision {
	t.recordPartial(p)

	if len(p.Tokens) > t.cfg.CompressionCheckWindow {
		window := p.Tokens[len(p.Tokens)-t.cfg.CompressionCheckWindow:]
		if ratio := compressionRatio(window); ratio > t.cfg.CompressionRatioThreshold {
			t.log.Debug().Float64("ratio", ratio).Msg("early stop: repetitive decode")
			return engine.StopLowConfidence
		}
	} else if p.AvgLogProb != nil && t.cfg.LogProbThreshold != nil && *p.AvgLogProb < *t.cfg.LogProbThreshold {
		t.log.Debug().Float64("avg_logprob", *p.AvgLogProb).Msg("early stop: low confidence")
		return engine.StopLowConfidence
	}
	return engine.Continue
}

// recordPartial applies one progress event to the partial-text trail. A
// shorter text means the decoder reset: with an unchanged fallback count
// the previous text is archived; otherwise the reset came from a fallback
// and is only logged.
func (t *Transcriber) recordPartial(p engine.Progress) {
	fellBack := false
	t.set(func(s *State) {
		if len(p.Text) < len(s.PartialText) {
			if p.FallbackCount == s.FallbackCount {
				s.PartialHistory = append(s.PartialHistory, s.PartialText)
			} else {
				fellBack = true
			}
		}
		s.PartialText = p.Text
		s.FallbackCount = p.FallbackCount
	})
	if fellBack {
		t.log.Debug().Int("fallbacks", p.FallbackCount).Msg("decoder fallback")
	}
}

func (t *Transcriber) placeholder() {
	if t.State().PartialText != "" {
		return
	}
	t.set(func(s *State) { s.PartialText = placeholderText })
}

func (t *Transcriber) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(t.cfg.PollInterval):
	}
}

// compressionRatio measures how repetitive a token window is: raw byte
// size over zlib-compressed size. Degenerate decode loops compress
// extremely well and score high.
func compressionRatio(tokens []int) float64 {
	if len(tokens) == 0 {
		return 0
	}
	raw := make([]byte, len(tokens)*4)
	for i, tok := range tokens {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(tok))
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(raw)
	zw.Close()
	if buf.Len() == 0 {
		return 0
	}
	return float64(len(raw)) / float64(buf.Len())
}
