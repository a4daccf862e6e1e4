package meshnet

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	heartbeatInterval = 1000 * time.Millisecond
	heartbeatTimeout   = 3000 * time.Millisecond
)

// HeartbeatSender transmits a zero-payload heartbeat packet to dest.
// Implemented by transport.Combined.
type HeartbeatSender interface {
	SendHeartbeat(dest uuid.UUID) error
}

// HeartbeatMonitor pings every Connected peer on a fixed tick and evicts
// any that go quiet past heartbeatTimeout.
type HeartbeatMonitor struct {
	pool   *Pool
	sender HeartbeatSender

	HeartbeatsSent    atomic.Int64
	TimeoutsDetected  atomic.Int64

	onReap func(n int)

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeatMonitor builds a monitor over pool, sending probes via
// sender. onReap, if non-nil, is called with the number of connections
// reaped after each tick that removes at least one Failed connection
// from the pool, whether it failed by heartbeat timeout or otherwise.
func NewHeartbeatMonitor(pool *Pool, sender HeartbeatSender, onReap func(n int)) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		pool:   pool,
		sender: sender,
		onReap: onReap,
		done:   make(chan struct{}),
	}
}

func (m *HeartbeatMonitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *HeartbeatMonitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *HeartbeatMonitor) tick() {
	connected := m.pool.ByState(Connected)
	for _, c := range connected {
		if c.TimeSinceLastHeartbeat() > heartbeatTimeout {
			m.TimeoutsDetected.Add(1)
			c.mu.Lock()
			c.failReason = "heartbeat timeout"
			c.mu.Unlock()
			c.setState(Failed)
			continue
		}
		if err := m.sender.SendHeartbeat(c.PeerID()); err != nil {
			log.Printf("meshnet: heartbeat send to %s: %v", c.PeerID(), err)
			continue
		}
		m.HeartbeatsSent.Add(1)
	}

	if n := m.pool.ReapFailed(); n > 0 {
		if m.onReap != nil {
			m.onReap(n)
		}
	}
}

// HeartbeatStats is a JSON-friendly snapshot of the monitor's counters.
type HeartbeatStats struct {
	HeartbeatsSent   int64 `json:"heartbeats_sent"`
	TimeoutsDetected int64 `json:"timeouts_detected"`
}

func (m *HeartbeatMonitor) Stats() HeartbeatStats {
	return HeartbeatStats{
		HeartbeatsSent:   m.HeartbeatsSent.Load(),
		TimeoutsDetected: m.TimeoutsDetected.Load(),
	}
}
