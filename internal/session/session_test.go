package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/touch"
)

// scriptedSource is a device.Source whose frames the test pushes by hand.
// It reports full capabilities so frames pass through the tracker unchanged.
type scriptedSource struct {
	openErr error
	frames  chan device.RawFrame

	mu     sync.Mutex
	opened bool
	closed bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{frames: make(chan device.RawFrame, 64)}
}

func (s *scriptedSource) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Caps() device.Caps {
	return device.Caps{Identity: true, Velocity: true, Phase: true}
}

func (s *scriptedSource) Listen(ctx context.Context, emit func(device.RawFrame)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.frames:
			emit(f)
		}
	}
}

func (s *scriptedSource) push(f device.RawFrame) { s.frames <- f }

func (s *scriptedSource) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func touching(id int, x, y float32) device.RawContact {
	return device.RawContact{ID: id, Phase: touch.PhaseTouching, X: x, Y: y, Size: 0.6}
}

func startSession(t *testing.T, src *scriptedSource) *Session {
	t.Helper()
	sess := New(src, DefaultConfig())
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)
	return sess
}

func waitFrames(t *testing.T, sess *Session, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.Stats().Frames >= n
	}, 2*time.Second, 2*time.Millisecond, "source frames never reached the session")
}

func TestStartOpenError(t *testing.T) {
	src := newScriptedSource()
	src.openErr = errors.New("no device")

	sess := New(src, DefaultConfig())
	err := sess.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
}

func TestStartTwice(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	assert.ErrorIs(t, sess.Start(context.Background()), ErrAlreadyStarted)
}

func TestPollBeforeAnyFrame(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	buf := make([]touch.Touch, 4)
	assert.Equal(t, 0, sess.Poll(buf))
}

func TestPollCopiesActiveTouchesLowestIDFirst(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	src.push(device.RawFrame{Timestamp: 1.0, Contacts: []device.RawContact{
		touching(5, 0.8, 0.5),
		touching(2, 0.2, 0.5),
		{ID: 9, Phase: touch.PhaseHovering, X: 0.5, Y: 0.5},
	}})
	waitFrames(t, sess, 1)

	buf := make([]touch.Touch, 4)
	n := sess.Poll(buf)
	require.Equal(t, 2, n)
	assert.Equal(t, 2, buf[0].ID)
	assert.Equal(t, 5, buf[1].ID)
	// The hovering contact is not on the surface and never reaches callers.
	assert.Equal(t, uint64(0), sess.Stats().TruncatedPolls)
}

func TestPollTruncatesToBuffer(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	src.push(device.RawFrame{Timestamp: 1.0, Contacts: []device.RawContact{
		touching(1, 0.2, 0.5),
		touching(2, 0.5, 0.5),
		touching(3, 0.8, 0.5),
	}})
	waitFrames(t, sess, 1)

	buf := make([]touch.Touch, 2)
	n := sess.Poll(buf)
	require.Equal(t, 2, n)
	assert.Equal(t, 1, buf[0].ID)
	assert.Equal(t, 2, buf[1].ID)
	assert.Equal(t, uint64(1), sess.Stats().TruncatedPolls)
}

func TestResetZeroFills(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	buf := []touch.Touch{
		{ID: 1, Phase: touch.PhaseTouching, X: 0.5},
		{ID: 2, Phase: touch.PhaseEnding, X: 0.7},
	}
	sess.Reset(buf)

	for i, tc := range buf {
		assert.Equal(t, touch.Touch{}, tc, "slot %d", i)
		assert.Equal(t, touch.PhaseNotTracking, tc.Phase, "slot %d", i)
	}
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	var mu sync.Mutex
	var seqs []uint64
	cancel := sess.Subscribe(func(f touch.Frame) {
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
	})
	defer cancel()

	for i := 0; i < 3; i++ {
		src.push(device.RawFrame{Timestamp: float64(i) * 0.01, Contacts: []device.RawContact{
			touching(1, 0.5, 0.5),
		}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 3
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	var mu sync.Mutex
	count := 0
	cancel := sess.Subscribe(func(touch.Frame) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	src.push(device.RawFrame{Timestamp: 0.01, Contacts: []device.RawContact{touching(1, 0.5, 0.5)}})
	waitFrames(t, sess, 1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 2*time.Millisecond)

	cancel()
	cancel() // safe to call again

	src.push(device.RawFrame{Timestamp: 0.02, Contacts: []device.RawContact{touching(1, 0.5, 0.5)}})
	waitFrames(t, sess, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestSubscribeCancelRacesDelivery(t *testing.T) {
	src := newScriptedSource()
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	sess := New(src, cfg)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)

	// Keep frames flowing while subscribers churn.
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	go func() {
		ts := 0.0
		for feedCtx.Err() == nil {
			ts += 0.001
			src.push(device.RawFrame{Timestamp: ts, Contacts: []device.RawContact{
				touching(1, 0.5, 0.5),
			}})
		}
	}()

	// Subscribing and cancelling under load must never kill the delivery
	// goroutine, whatever the interleaving.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(300 * time.Millisecond)
			for time.Now().Before(deadline) {
				cancel := sess.Subscribe(func(touch.Frame) {})
				cancel()
			}
		}()
	}
	wg.Wait()
	stopFeed()

	assert.NoError(t, sess.Err())
	buf := make([]touch.Touch, 4)
	assert.Equal(t, 1, sess.Poll(buf))
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	src := newScriptedSource()
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	sess := New(src, cfg)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)

	gate := make(chan struct{})
	var mu sync.Mutex
	var seqs []uint64
	cancel := sess.Subscribe(func(f touch.Frame) {
		<-gate
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
	})
	defer cancel()

	const pushed = 12
	for i := 0; i < pushed; i++ {
		src.push(device.RawFrame{Timestamp: float64(i) * 0.01, Contacts: []device.RawContact{
			touching(1, 0.5, 0.5),
		}})
	}
	waitFrames(t, sess, pushed)

	// The blocked subscriber's queue overflowed; old frames were dropped
	// rather than stalling the source.
	require.Eventually(t, func() bool {
		return sess.Stats().DroppedFrames > 0
	}, 2*time.Second, 2*time.Millisecond)

	close(gate)

	// Delivery resumes and ends on the newest frame.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) > 0 && seqs[len(seqs)-1] == pushed
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, len(seqs), pushed)
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i])
	}
}

func TestStopIsIdempotentAndReleasesSource(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	src.push(device.RawFrame{Timestamp: 0.01, Contacts: []device.RawContact{touching(1, 0.5, 0.5)}})
	waitFrames(t, sess, 1)

	sess.Stop()
	sess.Stop()

	assert.True(t, src.wasClosed())

	buf := make([]touch.Touch, 4)
	assert.Equal(t, 0, sess.Poll(buf))
	assert.ErrorIs(t, sess.Start(context.Background()), ErrAlreadyStarted)
}

func TestLatestAndHistory(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	for i := 0; i < 3; i++ {
		src.push(device.RawFrame{Timestamp: float64(i) * 0.01, Contacts: []device.RawContact{
			touching(1, 0.5, 0.5),
		}})
	}
	waitFrames(t, sess, 3)

	latest, ok := sess.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Seq)

	hist := sess.History(2)
	require.Len(t, hist, 2)
	assert.Equal(t, uint64(2), hist[0].Seq)
	assert.Equal(t, uint64(3), hist[1].Seq)
}

func TestStatsTrackPeak(t *testing.T) {
	src := newScriptedSource()
	sess := startSession(t, src)

	src.push(device.RawFrame{Timestamp: 0.01, Contacts: []device.RawContact{
		touching(1, 0.2, 0.5),
		touching(2, 0.8, 0.5),
	}})
	src.push(device.RawFrame{Timestamp: 0.02, Contacts: []device.RawContact{
		touching(1, 0.2, 0.5),
	}})
	waitFrames(t, sess, 2)

	stats := sess.Stats()
	assert.Equal(t, 1, stats.ActiveTouches)
	assert.Equal(t, 2, stats.PeakTouches)
}
