package transcribe

import (
	"context"
	"math"
	"time"

	"murmur/capture"
)

// VoiceFunc is an injected voice-activity predicate over the newest audio
// window. It may suspend (e.g. call out to a model).
type VoiceFunc func(ctx context.Context, window []float32) (bool, error)

// gateWindow is the newest slice of the buffer handed to an injected
// predicate: ~100ms.
const gateWindow = capture.SampleRate / 10

// chunksPerSecond converts between trace entries and seconds; the mic
// backends deliver one energy reading per capture.ChunkDuration.
const chunksPerSecond = int(time.Second / capture.ChunkDuration)

// voiceDetected runs the per-cycle gate decision. A failing predicate is
// logged and the built-in energy gate decides instead.
func (t *Transcriber) voiceDetected(ctx context.Context, buf []float32, newAudio float64) bool {
	if t.cfg.Voice != nil {
		window := buf
		if len(window) > gateWindow {
			window = window[len(window)-gateWindow:]
		}
		voice, err := t.cfg.Voice(ctx, window)
		if err == nil {
			return voice
		}
		t.log.Debug().Err(err).Msg("voice predicate failed, using energy gate")
	}
	return energyAboveThreshold(t.State().EnergyTrace, newAudio, t.cfg.EnergyThreshold)
}

// energyAboveThreshold reports voice if any trace entry covering the span
// of new audio exceeds the threshold.
func energyAboveThreshold(trace []float64, newAudioSeconds, threshold float64) bool {
	n := int(math.Ceil(newAudioSeconds * float64(chunksPerSecond)))
	if n < 1 {
		n = 1
	}
	if n > len(trace) {
		n = len(trace)
	}
	for _, e := range trace[len(trace)-n:] {
		if e > threshold {
			return true
		}
	}
	return false
}
