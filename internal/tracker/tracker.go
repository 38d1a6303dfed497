// Package tracker turns raw backend frames into canonical touch frames:
// stable contact identities, velocity estimates, lifecycle phases, and
// debounced lifts. Backends that report some of these natively (see
// device.Caps) get passthrough treatment for those fields.
package tracker

import (
	"math"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/touch"
)

// Config holds tracking parameters. All distances are in normalized surface
// units; durations are in seconds on the device clock.
type Config struct {
	// MinSize: contacts smaller than this never start a track. Contacts
	// of an established track may dip below it (hysteresis).
	MinSize float32
	// MatchDistance: maximum distance for matching a contact to a live
	// track between consecutive frames.
	MatchDistance float32
	// Smoothing: exponential moving average factor for velocity,
	// 0 (raw finite difference) to 1 (frozen).
	Smoothing float32
	// Linger: how long a lifted contact may reappear nearby and keep its
	// identity, suppressing spurious lift/re-touch flicker.
	Linger float64
}

// DefaultConfig returns production-default tracking parameters.
func DefaultConfig() Config {
	return Config{
		MinSize:       0.05,
		MatchDistance: 0.15,
		Smoothing:     0.6,
		Linger:        0.08,
	}
}

// recentCap bounds the debounce cache of recently-ended tracks.
const recentCap = 32

type track struct {
	id     int
	x, y   float32
	vx, vy float32
	phase  touch.Phase
	angle  float32
	major  float32
	minor  float32
	size   float32
}

type endedTrack struct {
	x, y    float32
	vx, vy  float32
	endedAt float64
}

// Tracker maintains contact state across frames for one session.
type Tracker struct {
	mu   sync.Mutex
	cfg  Config
	caps device.Caps

	seq    uint64
	nextID int
	live   map[int]*track
	recent *lru.Cache[int, endedTrack]
	lastTS float64
}

// New creates a tracker for a backend with the given capabilities.
func New(cfg Config, caps device.Caps) *Tracker {
	recent, _ := lru.New[int, endedTrack](recentCap)
	return &Tracker{
		cfg:    cfg,
		caps:   caps,
		nextID: 1,
		live:   make(map[int]*track),
		recent: recent,
	}
}

// SetConfig swaps tracking parameters between frames (live config reload).
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// Process folds one raw frame into the tracker state and returns the
// canonical frame: clamped coordinates, stable IDs unique within the frame,
// legal phase transitions, and velocity for every touch. Touches are ordered
// by ascending ID.
func (t *Tracker) Process(raw device.RawFrame) touch.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	frame := touch.Frame{Seq: t.seq, Timestamp: raw.Timestamp}

	dt := raw.Timestamp - t.lastTS
	if dt <= 0 || t.lastTS == 0 {
		dt = 0
	}
	t.lastTS = raw.Timestamp

	if t.caps.Phase && t.caps.Identity {
		frame.Touches = t.passthrough(raw)
	} else {
		frame.Touches = t.resolve(raw, dt)
	}

	sort.Slice(frame.Touches, func(i, j int) bool {
		return frame.Touches[i].ID < frame.Touches[j].ID
	})
	return frame
}

// passthrough handles backends that report identity and phase themselves.
// Coordinates are still clamped and duplicate IDs within a frame dropped.
func (t *Tracker) passthrough(raw device.RawFrame) []touch.Touch {
	seen := make(map[int]bool, len(raw.Contacts))
	out := make([]touch.Touch, 0, len(raw.Contacts))
	for _, c := range raw.Contacts {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, touch.Touch{
			ID:        c.ID,
			Phase:     c.Phase,
			X:         touch.Clamp01(c.X),
			Y:         touch.Clamp01(c.Y),
			VX:        c.VX,
			VY:        c.VY,
			Angle:     c.Angle,
			MajorAxis: c.MajorAxis,
			MinorAxis: c.MinorAxis,
			Size:      c.Size,
		})
	}
	return out
}

// resolve matches anonymous contacts to live tracks and reconstructs
// identity, phase, and velocity.
func (t *Tracker) resolve(raw device.RawFrame, dt float64) []touch.Touch {
	type pair struct {
		trackID int
		contact int
		dist    float32
	}

	// Candidate matches between live tracks and contacts, nearest first.
	var pairs []pair
	for id, tr := range t.live {
		for i, c := range raw.Contacts {
			d := dist(tr.x, tr.y, c.X, c.Y)
			if d <= t.cfg.MatchDistance {
				pairs = append(pairs, pair{trackID: id, contact: i, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	matchedTrack := make(map[int]int)   // track id -> contact index
	matchedContact := make(map[int]int) // contact index -> track id
	for _, p := range pairs {
		if _, ok := matchedTrack[p.trackID]; ok {
			continue
		}
		if _, ok := matchedContact[p.contact]; ok {
			continue
		}
		matchedTrack[p.trackID] = p.contact
		matchedContact[p.contact] = p.trackID
	}

	out := make([]touch.Touch, 0, len(raw.Contacts))

	// Update matched tracks.
	for id, ci := range matchedTrack {
		tr := t.live[id]
		c := raw.Contacts[ci]
		t.updateTrack(tr, c, dt)
		out = append(out, tr.asTouch())
	}

	// Live tracks with no contact this frame end now. The set is fixed
	// before adoption so tracks born below are not swept up with them.
	var endedIDs []int
	for id := range t.live {
		if _, ok := matchedTrack[id]; !ok {
			endedIDs = append(endedIDs, id)
		}
	}

	// Unmatched contacts: resurrect a recently-ended track or start fresh.
	for i, c := range raw.Contacts {
		if _, ok := matchedContact[i]; ok {
			continue
		}
		if c.Size < t.cfg.MinSize {
			continue
		}
		tr := t.adopt(c, raw.Timestamp)
		out = append(out, tr.asTouch())
	}

	// Emit Ending exactly once per ended track.
	for _, id := range endedIDs {
		tr := t.live[id]
		tr.phase = touch.PhaseEnding
		out = append(out, tr.asTouch())
		t.recent.Add(id, endedTrack{x: tr.x, y: tr.y, vx: tr.vx, vy: tr.vy, endedAt: raw.Timestamp})
		delete(t.live, id)
	}

	return out
}

// updateTrack folds a matched contact into its track.
func (t *Tracker) updateTrack(tr *track, c device.RawContact, dt float64) {
	x := touch.Clamp01(c.X)
	y := touch.Clamp01(c.Y)

	if t.caps.Velocity {
		tr.vx, tr.vy = c.VX, c.VY
	} else if dt > 0 {
		ivx := (x - tr.x) / float32(dt)
		ivy := (y - tr.y) / float32(dt)
		s := t.cfg.Smoothing
		tr.vx = s*tr.vx + (1-s)*ivx
		tr.vy = s*tr.vy + (1-s)*ivy
	}

	tr.x, tr.y = x, y
	tr.angle, tr.major, tr.minor, tr.size = c.Angle, c.MajorAxis, c.MinorAxis, c.Size

	switch tr.phase {
	case touch.PhaseBeginning, touch.PhaseTouching:
		tr.phase = touch.PhaseTouching
	default:
		tr.phase = touch.PhaseBeginning
	}
}

// adopt starts a track for a contact with no live match: either a debounced
// continuation of a recently-ended track, or a brand new identity.
func (t *Tracker) adopt(c device.RawContact, ts float64) *track {
	tr := &track{
		x:     touch.Clamp01(c.X),
		y:     touch.Clamp01(c.Y),
		angle: c.Angle,
		major: c.MajorAxis,
		minor: c.MinorAxis,
		size:  c.Size,
		phase: touch.PhaseBeginning,
	}

	// Debounce: a contact reappearing near a fresh lift keeps its identity
	// and continues as Touching, as if the lift never happened.
	for _, id := range t.recent.Keys() {
		ended, ok := t.recent.Peek(id)
		if !ok {
			continue
		}
		if ts-ended.endedAt > t.cfg.Linger {
			t.recent.Remove(id)
			continue
		}
		if dist(ended.x, ended.y, tr.x, tr.y) <= t.cfg.MatchDistance {
			t.recent.Remove(id)
			tr.id = id
			tr.vx, tr.vy = ended.vx, ended.vy
			tr.phase = touch.PhaseTouching
			t.live[id] = tr
			return tr
		}
	}

	tr.id = t.nextID
	t.nextID++
	t.live[tr.id] = tr
	return tr
}

func (tr *track) asTouch() touch.Touch {
	return touch.Touch{
		ID:        tr.id,
		Phase:     tr.phase,
		X:         tr.x,
		Y:         tr.y,
		VX:        tr.vx,
		VY:        tr.vy,
		Angle:     tr.angle,
		MajorAxis: tr.major,
		MinorAxis: tr.minor,
		Size:      tr.size,
	}
}

func dist(x1, y1, x2, y2 float32) float32 {
	dx := float64(x2 - x1)
	dy := float64(y2 - y1)
	return float32(math.Hypot(dx, dy))
}
