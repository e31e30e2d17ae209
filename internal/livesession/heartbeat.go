package livesession

import (
	"time"

	"go.uber.org/zap"

	"livedata/internal/corelog"
	"livedata/internal/ddp"
)

// startHeartbeat begins the ping/pong liveness cycle once a session has
// negotiated a protocol version. A non-positive interval disables it
// entirely (used by tests and by HEARTBEAT_INTERVAL_MS=0 deployments).
func (s *Session) startHeartbeat() {
	if s.heartbeatIface.interval <= 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pingTimer = time.AfterFunc(s.heartbeatIface.interval, s.sendHeartbeatPing)
	s.mu.Unlock()
}

func (s *Session) sendHeartbeatPing() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.send(ddp.Ping{Msg: "ping"})

	s.mu.Lock()
	s.timeoutTimer = time.AfterFunc(s.heartbeatIface.timeout, s.heartbeatTimedOut)
	s.mu.Unlock()
}

func (s *Session) heartbeatTimedOut() {
	corelog.Warn("session missed heartbeat, closing", zap.String("session", s.ID))
	s.Close()
}

// handlePongReceived cancels the outstanding heartbeat timeout and schedules the
// next ping. Sessions call this from their pong dispatch case in dispatch().
func (s *Session) handlePongReceived() {
	s.mu.Lock()
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	closed := s.closed
	interval := s.heartbeatIface.interval
	s.mu.Unlock()
	if closed || interval <= 0 {
		return
	}
	s.mu.Lock()
	s.pingTimer = time.AfterFunc(interval, s.sendHeartbeatPing)
	s.mu.Unlock()
}

func (s *Session) stopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
	}
}
