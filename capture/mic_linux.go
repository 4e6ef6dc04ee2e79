//go:build linux

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// Devices lists the capture sources PulseAudio knows about.
func Devices() ([]DeviceInfo, error) {
	client, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

type Mic struct {
	client *pulse.Client
	device string // source ID, empty for default

	buf sampleBuffer

	mu     sync.Mutex
	tap    func(chunk []float32)
	stream *pulse.RecordStream
	stop   chan struct{}
	done   chan struct{}
}

// NewMic opens the PulseAudio source with the given ID, or the system
// default when id is empty.
func NewMic(id string) (*Mic, error) {
	client, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &Mic{client: client, device: id}, nil
}

// RequestPermission probes source enumeration; PulseAudio has no consent
// dialog, so a reachable daemon counts as granted.
func (m *Mic) RequestPermission(_ context.Context) (bool, error) {
	if _, err := m.client.ListSources(); err != nil {
		return false, fmt.Errorf("pulse list sources: %w", err)
	}
	return true, nil
}

// SetTap registers an extra consumer of raw capture chunks, e.g. a
// session-dump encoder. Must be called before Start.
func (m *Mic) SetTap(tap func(chunk []float32)) {
	m.mu.Lock()
	m.tap = tap
	m.mu.Unlock()
}

func (m *Mic) Start(onEnergy func(level float64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tap := m.tap
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		chunk := m.buf.appendInt16(buf)
		if onEnergy != nil {
			onEnergy(RelativeEnergy(chunkRMS(chunk)))
		}
		if tap != nil {
			tap(chunk)
		}
		return len(buf), nil
	})

	// ~100ms fragments so each energy reading covers a chunkDuration span.
	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordLatency(0.1),
	}
	if m.device != "" {
		source, err := m.client.SourceByID(m.device)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := m.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	m.stream = stream
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		stream.Start()
		<-stop
		stream.Stop()
		stream.Close()
	}(m.stop, m.done)

	return nil
}

func (m *Mic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop == nil {
		return
	}
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

func (m *Mic) Buffer() []float32 { return m.buf.snapshot() }

func (m *Mic) Purge(keep int) { m.buf.trim(keep) }

func (m *Mic) Close() {
	m.Stop()
	m.client.Close()
}
