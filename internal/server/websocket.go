package server

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lovetrack/lovetrack/internal/touch"
)

var upgrader = websocket.Upgrader{
	// Token auth already ran; cross-origin upgrades are allowed so the
	// dashboard can connect from anywhere when CORS is on.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClientCount tracks connected stream clients for status reporting.
var wsClientCount int64

func (s *Server) wsClients() int {
	return int(atomic.LoadInt64(&wsClientCount))
}

// handleWS streams frames to one websocket client until it disconnects.
// Backpressure is handled upstream: the session drops a slow subscriber's
// oldest frames rather than stalling other consumers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess := s.session()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "no session running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	clientID := uuid.NewString()
	log := s.log.WithField("client", clientID)
	log.Info("stream client connected")

	atomic.AddInt64(&wsClientCount, 1)
	defer atomic.AddInt64(&wsClientCount, -1)

	done := make(chan struct{})
	var closeOnce sync.Once
	finish := func() { closeOnce.Do(func() { close(done) }) }

	// Frames arrive on the session's per-subscriber goroutine, so writes
	// here never race with each other.
	cancel := sess.Subscribe(func(f touch.Frame) {
		if err := conn.WriteJSON(f); err != nil {
			finish()
		}
	})
	defer cancel()

	// Read loop only detects client close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				finish()
				return
			}
		}
	}()

	<-done
	log.Info("stream client disconnected")
}
