package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovetrack/lovetrack/internal/device"
	"github.com/lovetrack/lovetrack/internal/session"
	"github.com/lovetrack/lovetrack/internal/touch"
)

// pushSource is a device.Source fed by the test.
type pushSource struct {
	frames chan device.RawFrame

	mu     sync.Mutex
	opened bool
}

func newPushSource() *pushSource {
	return &pushSource{frames: make(chan device.RawFrame, 16)}
}

func (p *pushSource) Open() error {
	p.mu.Lock()
	p.opened = true
	p.mu.Unlock()
	return nil
}

func (p *pushSource) Close() error { return nil }
func (p *pushSource) Name() string { return "push" }

func (p *pushSource) Caps() device.Caps {
	return device.Caps{Identity: true, Velocity: true, Phase: true}
}

func (p *pushSource) Listen(ctx context.Context, emit func(device.RawFrame)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.frames:
			emit(f)
		}
	}
}

func (p *pushSource) push(f device.RawFrame) { p.frames <- f }

// newTestSession starts a session over a pushSource and delivers one frame
// with a single touching contact.
func newTestSession(t *testing.T) (*session.Session, *pushSource) {
	t.Helper()
	src := newPushSource()
	sess := session.New(src, session.DefaultConfig())
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)

	src.push(device.RawFrame{Timestamp: 0.01, Contacts: []device.RawContact{
		{ID: 1, Phase: touch.PhaseTouching, X: 0.5, Y: 0.5, Size: 0.6},
	}})
	require.Eventually(t, func() bool {
		return sess.Stats().Frames >= 1
	}, 2*time.Second, 2*time.Millisecond)

	return sess, src
}

func newTestServer(t *testing.T, cfg Config, sess *session.Session, onShutdown func()) *httptest.Server {
	t.Helper()
	provider := func() *session.Session { return sess }
	if sess == nil {
		provider = nil
	}
	ts := httptest.NewServer(New(cfg, provider, onShutdown).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url, token string, out interface{}) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestStatusWithSession(t *testing.T) {
	sess, _ := newTestSession(t)
	ts := newTestServer(t, Config{}, sess, nil)

	var status statusResponse
	resp := getJSON(t, ts.URL+"/api/status", "", &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "push", status.Source)
	assert.Equal(t, uint64(1), status.Stats.Frames)
	assert.Empty(t, status.Error)
}

func TestStatusWithoutSession(t *testing.T) {
	ts := newTestServer(t, Config{}, nil, nil)

	var status statusResponse
	resp := getJSON(t, ts.URL+"/api/status", "", &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, status.Source)
}

func TestFrameRequiresSession(t *testing.T) {
	ts := newTestServer(t, Config{}, nil, nil)

	resp := getJSON(t, ts.URL+"/api/frame", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFrameReturnsLatest(t *testing.T) {
	sess, _ := newTestSession(t)
	ts := newTestServer(t, Config{}, sess, nil)

	var frame touch.Frame
	resp := getJSON(t, ts.URL+"/api/frame", "", &frame)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, frame.Touches, 1)
	assert.Equal(t, 1, frame.Touches[0].ID)
	assert.Equal(t, touch.PhaseTouching, frame.Touches[0].Phase)
}

func TestHistory(t *testing.T) {
	sess, src := newTestSession(t)
	src.push(device.RawFrame{Timestamp: 0.02, Contacts: []device.RawContact{
		{ID: 1, Phase: touch.PhaseTouching, X: 0.55, Y: 0.5, Size: 0.6},
	}})
	require.Eventually(t, func() bool {
		return sess.Stats().Frames >= 2
	}, 2*time.Second, 2*time.Millisecond)

	ts := newTestServer(t, Config{}, sess, nil)

	var frames []touch.Frame
	resp := getJSON(t, ts.URL+"/api/history?n=1", "", &frames)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(2), frames[0].Seq)

	resp = getJSON(t, ts.URL+"/api/history?n=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthToken(t *testing.T) {
	sess, _ := newTestSession(t)
	ts := newTestServer(t, Config{Token: "sekrit"}, sess, nil)

	resp := getJSON(t, ts.URL+"/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/status", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/status", "sekrit", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Query parameter form, for websocket clients.
	resp = getJSON(t, ts.URL+"/api/status?token=sekrit", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShutdownEndpoint(t *testing.T) {
	called := make(chan struct{})
	ts := newTestServer(t, Config{}, nil, func() { close(called) })

	resp, err := http.Post(ts.URL+"/api/shutdown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never ran")
	}
}

func TestShutdownDisabled(t *testing.T) {
	ts := newTestServer(t, Config{}, nil, nil)

	resp, err := http.Post(ts.URL+"/api/shutdown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(t, Config{CORS: true}, nil, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
