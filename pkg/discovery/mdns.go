package discovery

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/zeroconf/v2"
)

// reapPeriod is how often the stale-peer sweep runs; staleAfter is how
// long a peer can go unseen before MDNS emits PeerGone for it, mirroring
// the multicast fallback's 2x-interval timeout policy.
const reapPeriod = 5 * time.Second
const staleAfter = 2 * reapPeriod

// SelfInfo is supplied by the caller to fill this node's advertisement.
// Multicast calls it for every announcement, so its beacons carry the
// current DeviceCount; MDNS calls it once at Start, so its TXT records keep
// the values read at that moment.
type SelfInfo func() (id uuid.UUID, httpPort, udpPort, deviceCount int)

// MDNS advertises this node and browses for peers using
// github.com/libp2p/zeroconf/v2, used standalone without a libp2p host.
// zeroconf runs its own in-process mDNS responder and browser; this type
// opens no sockets itself.
type MDNS struct {
	self SelfInfo

	server *zeroconf.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	seen  map[uuid.UUID]NodeInfo
	event chan Event
}

// NewMDNS builds an MDNS discoverer. self is called once at Start to
// obtain the initial TXT record payload.
func NewMDNS(self SelfInfo) *MDNS {
	return &MDNS{
		self: self,
		seen: make(map[uuid.UUID]NodeInfo),
	}
}

func (m *MDNS) Start() (<-chan Event, error) {
	id, httpPort, udpPort, deviceCount := m.self()

	server, err := zeroconf.Register(
		id.String(),
		ServiceName,
		"local.",
		httpPort,
		[]string{
			"uuid=" + id.String(),
			"version=1.0",
			"udp_port=" + strconv.Itoa(udpPort),
			"device_count=" + strconv.Itoa(deviceCount),
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}
	m.server = server

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.event = make(chan Event, 16)

	m.wg.Add(2)
	go m.browseLoop(id)
	go m.reapLoop()

	return m.event, nil
}

func (m *MDNS) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.server != nil {
		m.server.Shutdown()
	}
	m.wg.Wait()
	if m.event != nil {
		close(m.event)
	}
	return nil
}

// browseLoop runs one Browse call for the discoverer's entire lifetime
// instead of repeated short windows: zeroconf re-queries the network on
// its own internal schedule, so a single long-lived call catches a
// late-joining peer as soon as it answers rather than only at the start
// of the next window.
func (m *MDNS) browseLoop(selfID uuid.UUID) {
	defer m.wg.Done()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := zeroconf.Browse(m.ctx, ServiceName, "local.", entries); err != nil {
		log.Printf("discovery: mdns browse: %v", err)
		return
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			m.handleEntry(selfID, entry)
		}
	}
}

func (m *MDNS) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(reapPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapStale()
		}
	}
}

func (m *MDNS) handleEntry(selfID uuid.UUID, entry *zeroconf.ServiceEntry) {
	fields := parseTXT(entry.Text)
	idStr, ok := fields["uuid"]
	if !ok {
		return
	}
	peerID, err := uuid.Parse(idStr)
	if err != nil || peerID == selfID {
		return
	}

	node := NodeInfo{
		ID:          peerID,
		Name:        entry.Instance,
		HTTPPort:    entry.Port,
		UDPPort:     atoiOr(fields["udp_port"], 0),
		DeviceCount: atoiOr(fields["device_count"], 0),
		LastSeen:    time.Now(),
	}
	if len(entry.AddrIPv4) > 0 {
		node.Addr = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		node.Addr = entry.AddrIPv6[0]
	}

	m.mu.Lock()
	_, existed := m.seen[peerID]
	m.seen[peerID] = node
	m.mu.Unlock()

	if !existed {
		m.emit(Event{Kind: PeerAppeared, Node: node})
	}
}

func (m *MDNS) reapStale() {
	cutoff := time.Now().Add(-staleAfter)
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

func (m *MDNS) emit(ev Event) {
	select {
	case m.event <- ev:
	case <-m.ctx.Done():
	}
}

func parseTXT(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, kv := range text {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
