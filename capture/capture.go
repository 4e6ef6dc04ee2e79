package capture

import (
	"context"
	"math"
	"sync"
	"time"
)

// SampleRate is the capture rate expected by every consumer in this
// module: 16 kHz mono float32.
const SampleRate = 16000

// ChunkDuration is the span one capture chunk covers. Both mic backends
// are configured to deliver data (and one energy reading) at this
// cadence, so consumers can convert between trace entries and seconds.
const ChunkDuration = 100 * time.Millisecond

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Device is a live microphone feeding an ever-growing sample buffer.
// Start delivers one relative-energy reading per captured chunk from the
// backend's own context; consumers must hand those off into their own
// execution domain before touching shared state.
type Device interface {
	RequestPermission(ctx context.Context) (bool, error)
	Start(onEnergy func(level float64)) error
	Stop()
	Buffer() []float32
	Purge(keep int)
}

const energyFloorDB = -60.0

// RelativeEnergy maps a raw RMS level onto a 0..1 scale where 0 is the
// noise floor and 1 is full scale, using a dB curve so quiet speech still
// registers well above silence.
func RelativeEnergy(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	rel := 1 - db/energyFloorDB
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}

func chunkRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// sampleBuffer is the growing capture buffer shared by the mic backends.
// The backend callback appends; the consumer snapshots and purges.
type sampleBuffer struct {
	mu      sync.Mutex
	samples []float32
}

func (b *sampleBuffer) appendPCM16LE(data []byte) []float32 {
	chunk := make([]float32, len(data)/2)
	for i := range chunk {
		s := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		chunk[i] = float32(s) / 32768.0
	}
	b.mu.Lock()
	b.samples = append(b.samples, chunk...)
	b.mu.Unlock()
	return chunk
}

func (b *sampleBuffer) appendInt16(buf []int16) []float32 {
	chunk := make([]float32, len(buf))
	for i, s := range buf {
		chunk[i] = float32(s) / 32768.0
	}
	b.mu.Lock()
	b.samples = append(b.samples, chunk...)
	b.mu.Unlock()
	return chunk
}

func (b *sampleBuffer) snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *sampleBuffer) trim(keep int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if keep <= 0 {
		b.samples = b.samples[:0]
		return
	}
	if keep >= len(b.samples) {
		return
	}
	tail := b.samples[len(b.samples)-keep:]
	b.samples = append(b.samples[:0], tail...)
}
