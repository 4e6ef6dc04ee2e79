// Package vad wraps WebRTC voice-activity detection as a predicate over a
// short audio window, usable as the injected gate strategy of the
// transcription coordinator.
package vad

import (
	"context"
	"encoding/binary"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"murmur/capture"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = capture.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes

	// Fraction of frames in the window that must be speech. A 100ms
	// window holds five 20ms frames, so one speech frame suffices.
	speechRatio = 0.10
)

type Detector struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

func New() (*Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &Detector{vad: v}, nil
}

// Detect reports whether the window contains speech. Trailing samples
// that do not fill a whole frame are ignored.
func (d *Detector) Detect(_ context.Context, window []float32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pcm := toPCM16LE(window)
	total, speech := 0, 0
	for len(pcm) >= vadFrameBytes {
		frame := pcm[:vadFrameBytes]
		pcm = pcm[vadFrameBytes:]
		active, err := d.vad.Process(capture.SampleRate, frame)
		if err != nil {
			return false, err
		}
		total++
		if active {
			speech++
		}
	}
	if total == 0 {
		return false, nil
	}
	return float64(speech)/float64(total) >= speechRatio, nil
}

func toPCM16LE(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return pcm
}
