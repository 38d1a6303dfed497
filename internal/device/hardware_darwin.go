//go:build darwin

package device

import (
	"context"
	"errors"
	"sync"

	"github.com/lovetrack/lovetrack/internal/mt"
	"github.com/lovetrack/lovetrack/internal/touch"
)

// Hardware reads frames from the built-in trackpad via the MultitouchSupport
// binding. One Hardware per process; the framework has a single callback slot.
type Hardware struct {
	mu  sync.Mutex
	dev *mt.Device
}

// NewHardware creates an unopened hardware backend.
func NewHardware() *Hardware {
	return &Hardware{}
}

// Open acquires the default multitouch device.
func (h *Hardware) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev != nil {
		return errors.New("device: hardware already open")
	}
	dev, err := mt.Open()
	if err != nil {
		return err
	}
	h.dev = dev
	return nil
}

// Close releases the multitouch device.
func (h *Hardware) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev == nil {
		return nil
	}
	err := h.dev.Close()
	h.dev = nil
	return err
}

// Name identifies the backend.
func (h *Hardware) Name() string {
	return "built-in trackpad"
}

// Caps: the framework reports identity, velocity, and lifecycle state itself.
func (h *Hardware) Caps() Caps {
	return Caps{Identity: true, Velocity: true, Phase: true}
}

// Listen runs the framework callback loop until ctx is cancelled, converting
// raw contact records into RawFrames.
func (h *Hardware) Listen(ctx context.Context, emit func(RawFrame)) error {
	h.mu.Lock()
	dev := h.dev
	h.mu.Unlock()
	if dev == nil {
		return errors.New("device: hardware not open")
	}

	err := dev.Run(ctx, func(contacts []mt.Contact, timestamp float64, _ int32) {
		frame := RawFrame{
			Timestamp: timestamp,
			Contacts:  make([]RawContact, 0, len(contacts)),
		}
		for _, c := range contacts {
			frame.Contacts = append(frame.Contacts, RawContact{
				ID:        int(c.Identifier),
				Phase:     touch.Phase(c.State),
				X:         c.PosX,
				Y:         c.PosY,
				VX:        c.VelX,
				VY:        c.VelY,
				Angle:     c.Angle,
				MajorAxis: c.MajorAxis,
				MinorAxis: c.MinorAxis,
				Size:      c.Size,
			})
		}
		emit(frame)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
