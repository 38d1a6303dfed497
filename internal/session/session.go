// Package session exposes trackpad data through the two access models the
// library supports: caller-driven polling into a caller-owned buffer, and
// subscription callbacks delivered in frame order.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/touch"
	"github.com/lovetrack/lovetrack/internal/tracker"
)

var (
	// ErrAlreadyStarted is returned by Start on a running or spent session.
	ErrAlreadyStarted = errors.New("session: already started")
)

// Config holds session parameters.
type Config struct {
	// Tracker parameters, applied to the tracking engine.
	Tracker tracker.Config
	// History is the frame ring capacity. Defaults to 128.
	History int
	// QueueSize is the per-subscriber frame queue. Slow subscribers drop
	// their oldest frames once the queue fills. Defaults to 16.
	QueueSize int
}

// DefaultConfig returns usable session defaults.
func DefaultConfig() Config {
	return Config{
		Tracker:   tracker.DefaultConfig(),
		History:   128,
		QueueSize: 16,
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	Frames         uint64 `json:"frames"`
	ActiveTouches  int    `json:"activeTouches"`
	PeakTouches    int    `json:"peakTouches"`
	TruncatedPolls uint64 `json:"truncatedPolls"`
	DroppedFrames  uint64 `json:"droppedFrames"`
}

// subscriber guards its channel with a mutex so a cancel racing an in-flight
// delivery can never close the channel out from under a send.
type subscriber struct {
	mu     sync.Mutex
	ch     chan touch.Frame
	closed bool
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Session is one listening session against a frame source. A Session is
// single-use: Start, then Stop; a stopped session stays stopped.
type Session struct {
	src device.Source
	cfg Config
	trk *tracker.Tracker
	log *logrus.Entry

	mu        sync.RWMutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	latest    touch.Frame
	haveFrame bool
	hist      *frameRing
	stats     Stats
	subs      map[int]*subscriber
	nextSub   int

	listenWG  sync.WaitGroup
	subWG     sync.WaitGroup
	listenErr error
}

// New creates a session over src. The source must not be open yet;
// Start opens it.
func New(src device.Source, cfg Config) *Session {
	if cfg.History <= 0 {
		cfg.History = 128
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Session{
		src:  src,
		cfg:  cfg,
		trk:  tracker.New(cfg.Tracker, src.Caps()),
		log:  logrus.WithField("component", "session"),
		hist: newFrameRing(cfg.History),
		subs: make(map[int]*subscriber),
	}
}

// Start opens the source and begins listening. It returns once the source
// is delivering frames; the listening itself runs on its own goroutine
// until Stop or ctx cancellation.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	if err := s.src.Open(); err != nil {
		s.mu.Unlock()
		return err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.log.WithField("source", s.src.Name()).Info("session started")

	s.listenWG.Add(1)
	go func() {
		defer s.listenWG.Done()
		err := s.src.Listen(listenCtx, s.ingest)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("source listener stopped")
			s.mu.Lock()
			s.listenErr = err
			s.mu.Unlock()
		}
	}()

	return nil
}

// ingest is the emit callback handed to the source. It runs on the source's
// delivery goroutine and must stay fast: track, record, fan out.
func (s *Session) ingest(raw device.RawFrame) {
	frame := s.trk.Process(raw)

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.latest = frame
	s.haveFrame = true
	s.hist.Push(frame)
	s.stats.Frames++
	active := frame.ActiveCount()
	s.stats.ActiveTouches = active
	if active > s.stats.PeakTouches {
		s.stats.PeakTouches = active
	}
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.offer(sub, frame)
	}
}

// offer enqueues a frame for one subscriber, dropping its oldest queued
// frame when the queue is full. Holding sub.mu keeps the channel open for
// the duration of the send even if the subscriber cancels concurrently.
func (s *Session) offer(sub *subscriber, f touch.Frame) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}

	select {
	case sub.ch <- f:
		return
	default:
	}
	select {
	case <-sub.ch:
		s.mu.Lock()
		s.stats.DroppedFrames++
		s.mu.Unlock()
	default:
	}
	select {
	case sub.ch <- f:
	default:
		// Lost the slot to a racing consumer wakeup; this frame is
		// dropped too and must be counted like the rest.
		s.mu.Lock()
		s.stats.DroppedFrames++
		s.mu.Unlock()
	}
}

// Poll copies the most recent frame's active touches into buf, lowest ID
// first, and returns how many were copied. The buffer is caller-owned: Poll
// never allocates. Returns 0 before Start and after Stop. When more touches
// are active than buf can hold, the overflow is dropped and counted in Stats.
func (s *Session) Poll(buf []touch.Touch) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || !s.haveFrame {
		return 0
	}

	n := 0
	truncated := false
	for _, t := range s.latest.Touches {
		if !t.Active() {
			continue
		}
		if n == len(buf) {
			truncated = true
			break
		}
		buf[n] = t
		n++
	}
	if truncated {
		s.stats.TruncatedPolls++
	}
	return n
}

// Reset clears a caller-supplied buffer: every slot becomes the zero Touch,
// whose phase is PhaseNotTracking.
func (s *Session) Reset(buf []touch.Touch) {
	for i := range buf {
		buf[i] = touch.Touch{}
	}
}

// Subscribe registers a callback for every frame. Frames arrive in order on
// a dedicated goroutine, never on the source's delivery thread. The returned
// cancel function unregisters the callback and may be called more than once.
func (s *Session) Subscribe(fn func(touch.Frame)) (cancel func()) {
	sub := &subscriber{ch: make(chan touch.Frame, s.cfg.QueueSize)}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	s.subWG.Add(1)
	go func() {
		defer s.subWG.Done()
		for f := range sub.ch {
			fn(f)
		}
	}()

	return func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
		}
		s.mu.Unlock()
		sub.close()
	}
}

// Stop ends the session: the source stops delivering, subscribers are
// drained and their channels closed, and the source is released. Stop is
// idempotent and safe to call concurrently with Poll and callbacks.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.listenWG.Wait()

	s.mu.Lock()
	s.started = false
	s.haveFrame = false
	subs := s.subs
	s.subs = make(map[int]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	s.subWG.Wait()

	if err := s.src.Close(); err != nil {
		s.log.WithError(err).Warn("closing source")
	}
	s.log.Info("session stopped")
}

// Latest returns the most recent frame, if any frame has arrived yet.
func (s *Session) Latest() (touch.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveFrame {
		return touch.Frame{}, false
	}
	return s.latest.Clone(), true
}

// History returns up to n of the most recent frames, oldest first.
func (s *Session) History(n int) []touch.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hist.Tail(n)
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Err reports a source failure observed after Start, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenErr
}

// SourceName reports the backend behind this session.
func (s *Session) SourceName() string {
	return s.src.Name()
}

// SetTrackerConfig applies new tracking parameters between frames.
func (s *Session) SetTrackerConfig(cfg tracker.Config) {
	s.trk.SetConfig(cfg)
}
