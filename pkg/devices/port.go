package devices

import (
	"sync"

	"github.com/oletizi/midimesh/pkg/wire"
)

// localPortMap is a small sync.RWMutex-guarded map, split out from Router
// so the lock protecting port dispatch never overlaps the lock protecting
// route lookups.
type localPortMap struct {
	mu    sync.RWMutex
	ports map[wire.DeviceID]LocalPort
}

func newLocalPortMap() *localPortMap {
	return &localPortMap{ports: make(map[wire.DeviceID]LocalPort)}
}

func (m *localPortMap) set(id wire.DeviceID, port LocalPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ports[id] = port
}

func (m *localPortMap) delete(id wire.DeviceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ports, id)
}

func (m *localPortMap) get(id wire.DeviceID) (LocalPort, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.ports[id]
	return p, ok
}

// VirtualMidiPort makes a remote device addressable through the same
// LocalPort interface a real hardware port satisfies, by forwarding every
// Send straight to the owning peer over the network. Used when a process
// downstream of the router (e.g. a CLI bridge) wants a uniform handle
// regardless of whether the target device is local or remote.
type VirtualMidiPort struct {
	id     wire.DeviceID
	router *Router
}

// NewVirtualMidiPort wraps device id behind the LocalPort interface,
// routing Send calls back through router so local/remote dispatch stays
// in one place.
func NewVirtualMidiPort(router *Router, id wire.DeviceID) *VirtualMidiPort {
	return &VirtualMidiPort{id: id, router: router}
}

func (p *VirtualMidiPort) Send(payload []byte) error {
	return p.router.Send(p.id, payload)
}
