// Package device defines the abstraction layer for trackpad frame sources.
// Both the real hardware backend and the emulator implement Source.
package device

import (
	"context"
	"errors"

	"github.com/lovetrack/lovetrack/internal/touch"
)

// ErrUnsupportedPlatform is returned by the hardware backend on platforms
// without a native multitouch service.
var ErrUnsupportedPlatform = errors.New("device: hardware trackpad not supported on this platform")

// Caps declares which raw contact fields a backend actually reports.
// The tracker fills in whatever the backend cannot.
type Caps struct {
	// Identity: contact IDs are stable across frames.
	Identity bool
	// Velocity: VX/VY carry the backend's own velocity estimate.
	Velocity bool
	// Phase: contacts carry lifecycle state from the backend.
	Phase bool
}

// RawContact is one contact as reported by a backend, before tracking.
// Fields outside the backend's Caps are zero.
type RawContact struct {
	ID        int
	Phase     touch.Phase
	X, Y      float32
	VX, VY    float32
	Angle     float32
	MajorAxis float32
	MinorAxis float32
	Size      float32
}

// RawFrame is one sampling frame as reported by a backend.
type RawFrame struct {
	Timestamp float64
	Contacts  []RawContact
}

// Source is a producer of raw trackpad frames.
type Source interface {
	// Open acquires the underlying device. Must be called before Listen.
	Open() error

	// Close releases the device. Listen must have returned first.
	Close() error

	// Name identifies the backend for logs and status output.
	Name() string

	// Caps reports which contact fields this backend fills in.
	Caps() Caps

	// Listen delivers frames to emit until ctx is cancelled. It blocks.
	// emit is invoked from the backend's delivery goroutine and must
	// return quickly.
	Listen(ctx context.Context, emit func(RawFrame)) error
}
