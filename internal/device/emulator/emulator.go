// Package emulator provides a synthetic trackpad source. It replays a script
// of strokes at a fixed sampling rate, reporting anonymous contacts the same
// way a raw digitizer would: no identity, no velocity, no lifecycle state.
// The tracker reconstructs all three, which makes the emulator useful both
// as a stand-in on machines without a trackpad and as a test fixture.
package emulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lovetrack/lovetrack/internal/device"
)

// Stroke is one scripted finger: a linear glide from (FromX, FromY) to
// (ToX, ToY) starting at Start and lasting Duration.
type Stroke struct {
	Start    time.Duration
	Duration time.Duration
	FromX    float32
	FromY    float32
	ToX      float32
	ToY      float32
	Size     float32
}

// Config controls the emulator's sampling behavior.
type Config struct {
	// Rate is the sampling rate in frames per second. Defaults to 60.
	Rate int
	// Strokes is the script to replay. Defaults to DefaultScript().
	Strokes []Stroke
	// Loop replays the script from the beginning when it ends.
	Loop bool
}

// DefaultScript returns a two-gesture demo: a one-finger diagonal swipe
// followed by a two-finger horizontal swipe.
func DefaultScript() []Stroke {
	return []Stroke{
		{Start: 200 * time.Millisecond, Duration: 600 * time.Millisecond, FromX: 0.2, FromY: 0.2, ToX: 0.8, ToY: 0.8, Size: 0.6},
		{Start: 1200 * time.Millisecond, Duration: 500 * time.Millisecond, FromX: 0.2, FromY: 0.4, ToX: 0.8, ToY: 0.4, Size: 0.5},
		{Start: 1200 * time.Millisecond, Duration: 500 * time.Millisecond, FromX: 0.2, FromY: 0.6, ToX: 0.8, ToY: 0.6, Size: 0.5},
	}
}

// Emulator implements device.Source with scripted synthetic frames.
type Emulator struct {
	cfg Config

	mu   sync.Mutex
	open bool
}

// New creates an emulator from cfg, applying defaults for zero fields.
func New(cfg Config) *Emulator {
	if cfg.Rate <= 0 {
		cfg.Rate = 60
	}
	if cfg.Strokes == nil {
		cfg.Strokes = DefaultScript()
	}
	return &Emulator{cfg: cfg}
}

// Open marks the emulator ready. There is no underlying resource.
func (e *Emulator) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		return errors.New("emulator: already open")
	}
	e.open = true
	return nil
}

// Close marks the emulator closed.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	return nil
}

// Name identifies the backend.
func (e *Emulator) Name() string {
	return "emulator"
}

// Caps: the emulator reports nothing beyond position and size.
func (e *Emulator) Caps() device.Caps {
	return device.Caps{}
}

// scriptLength returns the end time of the latest stroke.
func (e *Emulator) scriptLength() time.Duration {
	var end time.Duration
	for _, s := range e.cfg.Strokes {
		if t := s.Start + s.Duration; t > end {
			end = t
		}
	}
	// Trailing gap so the last lift is observed before the loop restarts.
	return end + 250*time.Millisecond
}

// Listen emits frames at the configured rate until ctx is cancelled or the
// script ends (unless looping). Empty frames are emitted too; the consumer
// needs them to observe lifts.
func (e *Emulator) Listen(ctx context.Context, emit func(device.RawFrame)) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return errors.New("emulator: not open")
	}
	e.mu.Unlock()

	interval := time.Second / time.Duration(e.cfg.Rate)
	length := e.scriptLength()
	start := time.Now()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			offset := elapsed
			if elapsed >= length {
				if !e.cfg.Loop {
					// Final empty frame so consumers see every lift.
					emit(device.RawFrame{Timestamp: elapsed.Seconds()})
					return nil
				}
				// Timestamps keep counting across loop replays; only
				// the script offset wraps.
				offset = elapsed % length
			}
			emit(device.RawFrame{
				Timestamp: elapsed.Seconds(),
				Contacts:  e.sample(offset),
			})
		}
	}
}

// sample builds the contacts active at a given script offset.
func (e *Emulator) sample(at time.Duration) []device.RawContact {
	var contacts []device.RawContact
	for _, s := range e.cfg.Strokes {
		if at < s.Start || at > s.Start+s.Duration {
			continue
		}
		progress := float32(at-s.Start) / float32(s.Duration)
		contacts = append(contacts, device.RawContact{
			X:         s.FromX + (s.ToX-s.FromX)*progress,
			Y:         s.FromY + (s.ToY-s.FromY)*progress,
			Size:      s.Size * sizeEnvelope(progress),
			MajorAxis: 0.05,
			MinorAxis: 0.04,
		})
	}
	return contacts
}

// sizeEnvelope ramps contact size up at touchdown and down before lift,
// mimicking a fingertip pressing and releasing.
func sizeEnvelope(progress float32) float32 {
	const ramp = 0.15
	switch {
	case progress < ramp:
		return 0.3 + 0.7*(progress/ramp)
	case progress > 1-ramp:
		return 0.3 + 0.7*((1-progress)/ramp)
	default:
		return 1
	}
}
