package devices

import (
	"sync"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

// RoutingTable is the device_id -> owner index kept in lockstep with a
// Registry by whichever caller performs the write (typically MeshManager).
type RoutingTable struct {
	mu     sync.RWMutex
	routes map[wire.DeviceID]Route
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{routes: make(map[wire.DeviceID]Route)}
}

// AddRoute inserts or replaces the route for a device id (at most one
// route per id, enforced by map semantics).
func (t *RoutingTable) AddRoute(route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[route.DeviceID] = route
}

// RemoveRoute deletes the route for a device id.
func (t *RoutingTable) RemoveRoute(id wire.DeviceID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, id)
}

// RemoveAllFrom removes every route owned by owner, mirroring
// Registry.RemoveAllFrom for the same peer-departure transaction.
func (t *RoutingTable) RemoveAllFrom(owner uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, route := range t.routes {
		if route.Owner == owner {
			delete(t.routes, id)
		}
	}
}

// GetRoute looks up the route for a device id.
func (t *RoutingTable) GetRoute(id wire.DeviceID) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	route, ok := t.routes[id]
	return route, ok
}

// Len reports the number of routes currently known.
func (t *RoutingTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
