package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MulticastGroup is used when mDNS is unavailable: nodes
// announce themselves to a fixed multicast group instead of relying on
// DNS-SD.
const (
	MulticastGroup    = "239.255.42.99:15353"
	announceInterval  = 1 * time.Second
	multicastStaleMul = 2
)

// announcement is the JSON beacon broadcast to MulticastGroup, the same
// shape as the mDNS TXT record fields so both paths feed identical
// NodeInfo values upstream.
type announcement struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	IP          string `json:"ip,omitempty"`
	HTTPPort    int    `json:"http_port"`
	UDPPort     int    `json:"udp_port"`
	DeviceCount int    `json:"device_count"`
	Version     string `json:"version"`
}

// Multicast is the UDP multicast fallback Discoverer.
type Multicast struct {
	self SelfInfo
	name string

	conn     *net.UDPConn
	groupAddr *net.UDPAddr

	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	mu    sync.Mutex
	seen  map[uuid.UUID]NodeInfo
	event chan Event
}

// NewMulticast builds a Multicast discoverer. name is the display name
// included in every announcement.
func NewMulticast(self SelfInfo, name string) *Multicast {
	return &Multicast{
		self: self,
		name: name,
		seen: make(map[uuid.UUID]NodeInfo),
	}
}

func (m *Multicast) Start() (<-chan Event, error) {
	groupAddr, err := net.ResolveUDPAddr("udp4", MulticastGroup)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve multicast group: %w", err)
	}
	m.groupAddr = groupAddr

	conn, err := net.ListenMulticastUDP("udp4", nil, groupAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: join multicast group: %w", err)
	}
	conn.SetReadBuffer(1 << 16)
	m.conn = conn

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.event = make(chan Event, 16)

	m.wg.Add(3)
	go m.announceLoop()
	go m.listenLoop()
	go m.reapLoop()

	return m.event, nil
}

func (m *Multicast) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		m.conn.Close()
	}
	m.wg.Wait()
	if m.event != nil {
		close(m.event)
	}
	return nil
}

func (m *Multicast) announceLoop() {
	defer m.wg.Done()

	sender, err := net.DialUDP("udp4", nil, m.groupAddr)
	if err != nil {
		log.Printf("discovery: multicast announce socket: %v", err)
		return
	}
	defer sender.Close()

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	m.announceOnce(sender)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.announceOnce(sender)
		}
	}
}

func (m *Multicast) announceOnce(sender *net.UDPConn) {
	id, httpPort, udpPort, deviceCount := m.self()
	packet := announcement{
		UUID:        id.String(),
		Name:        m.name,
		IP:          localIP(sender),
		HTTPPort:    httpPort,
		UDPPort:     udpPort,
		DeviceCount: deviceCount,
		Version:     "1.0",
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return
	}
	if _, err := sender.Write(data); err != nil {
		log.Printf("discovery: multicast announce: %v", err)
	}
}

func (m *Multicast) listenLoop() {
	defer m.wg.Done()

	selfID, _, _, _ := m.self()
	buf := make([]byte, 2048)
	for {
		m.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, remoteAddr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}

		var pkt announcement
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			continue
		}
		peerID, err := uuid.Parse(pkt.UUID)
		if err != nil || peerID == selfID {
			continue
		}

		addr := remoteAddr.IP
		if pkt.IP != "" {
			if parsed := net.ParseIP(pkt.IP); parsed != nil {
				addr = parsed
			}
		}
		node := NodeInfo{
			ID:          peerID,
			Name:        pkt.Name,
			Addr:        addr,
			HTTPPort:    pkt.HTTPPort,
			UDPPort:     pkt.UDPPort,
			DeviceCount: pkt.DeviceCount,
			LastSeen:    time.Now(),
		}

		m.mu.Lock()
		_, existed := m.seen[peerID]
		m.seen[peerID] = node
		m.mu.Unlock()

		if !existed {
			m.emit(Event{Kind: PeerAppeared, Node: node})
		}
	}
}

func (m *Multicast) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-multicastStaleMul * announceInterval)
			m.mu.Lock()
			var gone []NodeInfo
			for id, node := range m.seen {
				if node.LastSeen.Before(cutoff) {
					delete(m.seen, id)
					gone = append(gone, node)
				}
			}
			m.mu.Unlock()
			for _, node := range gone {
				m.emit(Event{Kind: PeerGone, Node: node})
			}
		}
	}
}

func (m *Multicast) emit(ev Event) {
	select {
	case m.event <- ev:
	case <-m.ctx.Done():
	}
}

// localIP best-effort reports the local address a socket would use to
// reach the multicast group, so peers can record our IP without a
// separate interface-enumeration step. Empty on failure; listenLoop falls
// back to the UDP packet's source address in that case.
func localIP(conn *net.UDPConn) string {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return ""
	}
	return addr.IP.String()
}
