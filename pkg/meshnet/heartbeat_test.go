package meshnet

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeHeartbeatSender struct {
	mu   sync.Mutex
	sent []uuid.UUID
}

func (s *fakeHeartbeatSender) SendHeartbeat(dest uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, dest)
	return nil
}

func (s *fakeHeartbeatSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestHeartbeatMonitorSendsToConnectedPeers(t *testing.T) {
	pool := NewPool()
	conn := newTestConn(uuid.New())
	pool.Insert(conn)
	conn.setState(Connected)

	sender := &fakeHeartbeatSender{}
	var reaped int
	mon := &HeartbeatMonitor{pool: pool, sender: sender, onReap: func(n int) { reaped += n }, done: make(chan struct{})}

	mon.tick()

	if sender.count() != 1 {
		t.Fatalf("expected 1 heartbeat sent, got %d", sender.count())
	}
	if mon.HeartbeatsSent.Load() != 1 {
		t.Fatalf("HeartbeatsSent = %d, want 1", mon.HeartbeatsSent.Load())
	}
}

func TestHeartbeatMonitorEvictsTimedOutPeer(t *testing.T) {
	pool := NewPool()
	conn := newTestConn(uuid.New())
	pool.Insert(conn)
	conn.setState(Connected)
	// Force the peer's last heartbeat far enough in the past to exceed
	// the 3000ms timeout.
	conn.lastHeartbeat.Store(time.Now().Add(-4 * time.Second).UnixNano())

	sender := &fakeHeartbeatSender{}
	var reaped int
	mon := &HeartbeatMonitor{pool: pool, sender: sender, onReap: func(n int) { reaped += n }, done: make(chan struct{})}

	mon.tick()

	if mon.TimeoutsDetected.Load() != 1 {
		t.Fatalf("TimeoutsDetected = %d, want 1", mon.TimeoutsDetected.Load())
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if pool.Len() != 0 {
		t.Fatalf("expected peer reaped from pool, Len = %d", pool.Len())
	}
	if sender.count() != 0 {
		t.Fatalf("expected no heartbeat sent to a timed-out peer this tick")
	}
}
