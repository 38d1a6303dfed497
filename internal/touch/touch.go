// Package touch defines the per-finger contact record and sampling frame
// shared by every other package in lovetrack.
package touch

import "fmt"

// Phase is the lifecycle state of a contact. The values mirror the contact
// states reported by the macOS multitouch framework, so a hardware-reported
// state can be carried through unchanged.
type Phase int32

const (
	PhaseNotTracking Phase = iota // no contact
	PhaseStarting                 // entering tracking range
	PhaseHovering                 // in range, not touching
	PhaseBeginning                // contact just made
	PhaseTouching                 // contact held
	PhaseEnding                   // contact just broken
	PhaseLingering                // recently lifted, still in range
	PhaseLeaving                  // leaving tracking range
)

var phaseNames = map[Phase]string{
	PhaseNotTracking: "not-tracking",
	PhaseStarting:    "starting",
	PhaseHovering:    "hovering",
	PhaseBeginning:   "beginning",
	PhaseTouching:    "touching",
	PhaseEnding:      "ending",
	PhaseLingering:   "lingering",
	PhaseLeaving:     "leaving",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Active reports whether the finger is in contact with the surface.
func (p Phase) Active() bool {
	return p == PhaseBeginning || p == PhaseTouching || p == PhaseEnding
}

// Touch is one finger contact on the trackpad in a given sampling frame.
// Positions and axis lengths are normalized to the surface; velocities are
// normalized units per second.
type Touch struct {
	ID        int     `json:"id"`
	Phase     Phase   `json:"phase"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	VX        float32 `json:"vx"`
	VY        float32 `json:"vy"`
	Angle     float32 `json:"angle"`
	MajorAxis float32 `json:"majorAxis"`
	MinorAxis float32 `json:"minorAxis"`
	Size      float32 `json:"size"`
}

// Active reports whether the touch is in contact with the surface.
func (t Touch) Active() bool {
	return t.Phase.Active()
}

// Frame is one sampling frame: every contact the device knew about at a
// single point in time. Timestamp is in seconds on the device clock.
type Frame struct {
	Seq       uint64  `json:"seq"`
	Timestamp float64 `json:"timestamp"`
	Touches   []Touch `json:"touches"`
}

// Clone returns a deep copy of the frame, safe to hand to another goroutine.
func (f Frame) Clone() Frame {
	out := f
	out.Touches = make([]Touch, len(f.Touches))
	copy(out.Touches, f.Touches)
	return out
}

// ActiveCount returns the number of touches in contact with the surface.
func (f Frame) ActiveCount() int {
	n := 0
	for _, t := range f.Touches {
		if t.Active() {
			n++
		}
	}
	return n
}

// Clamp01 clamps a normalized coordinate into [0, 1].
func Clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
