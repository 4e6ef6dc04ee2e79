package capture

import (
	"context"
	"sync"
)

// Fake is a scripted capture device for tests: the test appends samples
// and emits energy readings by hand, and can inspect what was purged.
type Fake struct {
	Permission bool

	mu       sync.Mutex
	samples  []float32
	started  bool
	starts   int
	onEnergy func(level float64)
	purges   []int
}

func NewFake() *Fake {
	return &Fake{Permission: true}
}

func (f *Fake) RequestPermission(_ context.Context) (bool, error) {
	return f.Permission, nil
}

func (f *Fake) Start(onEnergy func(level float64)) error {
	f.mu.Lock()
	f.started = true
	f.starts++
	f.onEnergy = onEnergy
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *Fake) Buffer() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float32, len(f.samples))
	copy(out, f.samples)
	return out
}

func (f *Fake) Purge(keep int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges = append(f.purges, keep)
	if keep <= 0 {
		f.samples = f.samples[:0]
		return
	}
	if keep < len(f.samples) {
		f.samples = f.samples[len(f.samples)-keep:]
	}
}

// Append grows the buffer by n copies of value, simulating captured audio.
func (f *Fake) Append(n int, value float32) {
	f.mu.Lock()
	for i := 0; i < n; i++ {
		f.samples = append(f.samples, value)
	}
	f.mu.Unlock()
}

// AppendSeconds grows the buffer by whole seconds of constant samples.
func (f *Fake) AppendSeconds(secs float64, value float32) {
	f.Append(int(secs*SampleRate), value)
}

// EmitEnergy delivers a relative-energy reading through the registered
// hand-off, as the real backends do from their capture context.
func (f *Fake) EmitEnergy(level float64) {
	f.mu.Lock()
	cb := f.onEnergy
	f.mu.Unlock()
	if cb != nil {
		cb(level)
	}
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Starts counts how many times Start has been called.
func (f *Fake) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *Fake) Purges() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.purges))
	copy(out, f.purges)
	return out
}
