//go:build !darwin

package device

import "context"

// Hardware is a stub on platforms without a native multitouch backend.
// Open always fails with ErrUnsupportedPlatform; callers fall back to the
// emulator.
type Hardware struct{}

// NewHardware creates the stub backend.
func NewHardware() *Hardware {
	return &Hardware{}
}

func (h *Hardware) Open() error {
	return ErrUnsupportedPlatform
}

func (h *Hardware) Close() error {
	return nil
}

func (h *Hardware) Name() string {
	return "unsupported"
}

func (h *Hardware) Caps() Caps {
	return Caps{}
}

func (h *Hardware) Listen(ctx context.Context, emit func(RawFrame)) error {
	return ErrUnsupportedPlatform
}
