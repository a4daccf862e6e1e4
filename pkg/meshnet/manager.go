package meshnet

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/devices"
	"github.com/oletizi/midimesh/pkg/discovery"
	"github.com/oletizi/midimesh/pkg/events"
	"github.com/oletizi/midimesh/pkg/wire"
)

// Manager wires discovery events to the connection pool, upholding
// at most one pool entry per peer, never connecting to self, and
// (devices/routes for a departed peer are removed atomically with it).
type Manager struct {
	self     uuid.UUID
	httpPort int
	selfReq  HandshakeRequest

	pool     *Pool
	registry *devices.Registry
	routes   *devices.RoutingTable
	bus      *events.Bus

	SelfAdvertisementsIgnored atomic.Int64
	TotalDiscovered           atomic.Int64
}

// NewManager builds a Manager. self is this node's identity; httpPort is
// where this node's own handshake endpoint listens; it is stored on the
// Manager and is not part of the handshake request. udpPort is this node's own bound UDP port, combined with its outbound
// LAN IP to fill the handshake request's udp_endpoint. bus may be nil
// or disabled; publishes are then no-ops.
func NewManager(self uuid.UUID, name string, httpPort, udpPort int, pool *Pool, registry *devices.Registry, routes *devices.RoutingTable, bus *events.Bus) *Manager {
	return &Manager{
		self:     self,
		httpPort: httpPort,
		selfReq: HandshakeRequest{
			NodeID:      self.String(),
			NodeName:    name,
			UDPEndpoint: net.JoinHostPort(localIP(), strconv.Itoa(udpPort)),
			Version:     "1.0",
		},
		pool:     pool,
		registry: registry,
		routes:   routes,
		bus:      bus,
	}
}

// Run consumes discovery events from ch until it's closed.
func (m *Manager) Run(ctx context.Context, ch <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case discovery.PeerAppeared:
				m.onPeerAppeared(ctx, ev.Node)
			case discovery.PeerGone:
				m.onPeerGone(ev.Node.ID)
			}
		}
	}
}

func (m *Manager) onPeerAppeared(ctx context.Context, info discovery.NodeInfo) {
	if info.ID == m.self {
		m.SelfAdvertisementsIgnored.Add(1)
		return
	}

	m.TotalDiscovered.Add(1)

	conn := NewNetworkConnection(info.ID, info.Name, httpAddrFor(info), info.HTTPPort, m.selfReq, Callbacks{
		OnStateChange: m.onStateChange,
		OnError: func(peer uuid.UUID, reason string) {
			log.Printf("meshnet: connection to %s failed: %s", peer, reason)
		},
		OnDeviceListReceived: m.onDeviceListReceived,
	})

	if !m.pool.Insert(conn) {
		// already tracked, discovery re-announced a known peer.
		return
	}
	m.bus.Publish(events.PeerAppeared, info.ID.String(), info.Name)

	go func() {
		if err := conn.Connect(ctx); err != nil {
			log.Printf("meshnet: handshake with %s: %v", info.ID, err)
		}
	}()
}

func (m *Manager) onPeerGone(peerID uuid.UUID) {
	m.evict(peerID)
	m.bus.Publish(events.PeerGone, peerID.String(), "")
}

// onStateChange tears down registry/routing entries the instant a
// connection leaves Connected, before it can be reaped from the pool,
// preserving that invariant.
func (m *Manager) onStateChange(peer uuid.UUID, from, to State) {
	if to == Failed || to == Disconnected {
		m.registry.RemoveAllFrom(peer)
		m.routes.RemoveAllFrom(peer)
	}
	if to == Failed {
		m.bus.Publish(events.ConnectionFailed, peer.String(), "")
	}
}

func (m *Manager) onDeviceListReceived(peer uuid.UUID, devs []HandshakeDevice) {
	for _, d := range devs {
		typ := parseDeviceType(d.Type)
		m.registry.AddRemote(peer, deviceIDFrom(d.ID), d.Name, typ)
		m.routes.AddRoute(devices.Route{DeviceID: deviceIDFrom(d.ID), Owner: peer, Name: d.Name, Type: typ})
		m.bus.Publish(events.DeviceRegistered, peer.String(), d.Name)
	}
}

// evict removes peerID from the pool and its devices/routes from the
// registry, used both for explicit PeerGone and as a belt-and-suspenders
// cleanup alongside onStateChange.
func (m *Manager) evict(peerID uuid.UUID) {
	m.registry.RemoveAllFrom(peerID)
	m.routes.RemoveAllFrom(peerID)
	m.pool.Remove(peerID)
}

// Statistics reports the mesh-wide connection counters.
type Statistics struct {
	ConnectedCount  int   `json:"connected_count"`
	TotalDiscovered int64 `json:"total_discovered"`
	TotalDevices    int   `json:"total_devices"`
}

func (m *Manager) Statistics() Statistics {
	return Statistics{
		ConnectedCount:  len(m.pool.ByState(Connected)),
		TotalDiscovered: m.TotalDiscovered.Load(),
		TotalDevices:    len(m.registry.AllDevices()),
	}
}

func httpAddrFor(info discovery.NodeInfo) string {
	return net.JoinHostPort(info.Addr.String(), strconv.Itoa(info.HTTPPort))
}

func deviceIDFrom(id uint16) wire.DeviceID {
	return wire.DeviceID(id)
}

// localIP best-effort reports this host's outbound LAN address by dialing
// a UDP socket and reading the address the OS chose, without sending a
// packet. The handshake request must carry a routable udp_endpoint for
// this node, not the wildcard bind address, or a peer on another host
// could never reach it. Falls back to loopback if the host has no route.
func localIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
