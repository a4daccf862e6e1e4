package meshnet

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Pool owns every NetworkConnection, keyed by peer UUID.
// A single mutex guards the map; per-connection state lives in atomics so
// reads never block on a long-running handshake.
type Pool struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*NetworkConnection
}

func NewPool() *Pool {
	return &Pool{byID: make(map[uuid.UUID]*NetworkConnection)}
}

// Insert adds conn if no entry exists yet for its peer id. Returns
// false without modifying the pool if one already does.
func (p *Pool) Insert(conn *NetworkConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[conn.PeerID()]; exists {
		return false
	}
	p.byID[conn.PeerID()] = conn
	return true
}

// Remove deletes the entry for peerID, returning whether one existed.
func (p *Pool) Remove(peerID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[peerID]; !exists {
		return false
	}
	delete(p.byID, peerID)
	return true
}

// Get looks up the connection for peerID.
func (p *Pool) Get(peerID uuid.UUID) (*NetworkConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.byID[peerID]
	return c, ok
}

// ByState returns every connection currently in state s.
func (p *Pool) ByState(s State) []*NetworkConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*NetworkConnection
	for _, c := range p.byID {
		if c.State() == s {
			out = append(out, c)
		}
	}
	return out
}

// All returns every connection currently tracked.
func (p *Pool) All() []*NetworkConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*NetworkConnection, 0, len(p.byID))
	for _, c := range p.byID {
		out = append(out, c)
	}
	return out
}

// ReapFailed removes every connection in the Failed state and returns how
// many were removed.
func (p *Pool) ReapFailed() int {
	p.mu.Lock()
	var failed []uuid.UUID
	for id, c := range p.byID {
		if c.State() == Failed {
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		delete(p.byID, id)
	}
	p.mu.Unlock()
	return len(failed)
}

// Len reports the number of tracked connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// ResolveUDP implements transport.AddrResolver by looking up the peer's
// connection and returning its negotiated UDP endpoint.
func (p *Pool) ResolveUDP(peerID uuid.UUID) (*net.UDPAddr, bool) {
	conn, ok := p.Get(peerID)
	if !ok {
		return nil, false
	}
	return conn.UDPEndpoint()
}
