// Package discovery finds other mesh nodes on the local network, first
// via mDNS/DNS-SD and falling back to UDP multicast beacons when mDNS is
// unavailable.
package discovery

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// ServiceName is the DNS-SD service type every node advertises under.
const ServiceName = "_midi-network._tcp"

// NodeInfo describes one discovered peer.
type NodeInfo struct {
	ID          uuid.UUID
	Name        string
	Addr        net.IP
	HTTPPort    int
	UDPPort     int
	DeviceCount int
	LastSeen    time.Time
}

// EventKind distinguishes a newly seen peer from one that has timed out.
type EventKind int

const (
	PeerAppeared EventKind = iota
	PeerGone
)

// Event is emitted by a Discoverer whenever a peer's presence changes.
type Event struct {
	Kind EventKind
	Node NodeInfo
}

// Discoverer advertises this node's presence and reports peer
// appear/disappear events. Both the mDNS and multicast implementations
// satisfy this.
type Discoverer interface {
	// Start begins advertising and browsing. Events are delivered on the
	// returned channel until Stop is called, at which point it is closed.
	Start() (<-chan Event, error)
	Stop() error
}
