//go:build !linux

package capture

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Devices lists the capture devices malgo knows about.
func Devices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

type Mic struct {
	ctx    *malgo.AllocatedContext
	device string // hex-encoded malgo device ID, empty for default

	buf sampleBuffer

	mu  sync.Mutex
	tap func(chunk []float32)
	dev *malgo.Device
}

// NewMic opens the capture device with the given ID, or the system
// default when id is empty.
func NewMic(id string) (*Mic, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &Mic{ctx: ctx, device: id}, nil
}

// RequestPermission probes device enumeration; desktop backends surface
// denial as an init failure rather than a consent dialog.
func (m *Mic) RequestPermission(_ context.Context) (bool, error) {
	if _, err := m.ctx.Devices(malgo.Capture); err != nil {
		return false, fmt.Errorf("malgo devices: %w", err)
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

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = SampleRate
	// One data callback per ~100ms so each energy reading covers a
	// chunkDuration span.
	deviceConfig.PeriodSizeInMilliseconds = 100

	if m.device != "" {
		idBytes, err := hex.DecodeString(m.device)
		if err != nil {
			return fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	tap := m.tap
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			if len(data) < 2 {
				return
			}
			chunk := m.buf.appendPCM16LE(data)
			if onEnergy != nil {
				onEnergy(RelativeEnergy(chunkRMS(chunk)))
			}
			if tap != nil {
				tap(chunk)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return err
	}
	m.dev = dev
	return nil
}

func (m *Mic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return
	}
	m.dev.Stop()
	m.dev.Uninit()
	m.dev = nil
}

func (m *Mic) Buffer() []float32 { return m.buf.snapshot() }

func (m *Mic) Purge(keep int) { m.buf.trim(keep) }

func (m *Mic) Close() {
	m.Stop()
	m.ctx.Uninit()
	m.ctx.Free()
}
