package devices

import (
	"sync"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

// Registry is the unified local + remote device catalogue.
// Reads take the read lock; writes take the write lock.
type Registry struct {
	mu       sync.RWMutex
	byID     map[wire.DeviceID]Record
	byOwner  map[uuid.UUID]map[wire.DeviceID]struct{}
	nextID   uint16
}

// NewRegistry returns an empty registry with local ID assignment starting
// at 1 (0 is reserved as "none").
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[wire.DeviceID]Record),
		byOwner: make(map[uuid.UUID]map[wire.DeviceID]struct{}),
		nextID:  1,
	}
}

// NextLocalID assigns the next monotonically increasing local device id.
func (r *Registry) NextLocalID() wire.DeviceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := wire.DeviceID(r.nextID)
	r.nextID++
	return id
}

// AddLocal registers a device owned by this node, backed by handle (an
// opaque token from the MidiBackend).
func (r *Registry) AddLocal(id wire.DeviceID, name string, typ Type, handle any) {
	r.add(Record{ID: id, Name: name, Type: typ, Owner: Local, Handle: handle})
}

// AddRemote registers a device owned by a peer, discovered via handshake.
func (r *Registry) AddRemote(owner uuid.UUID, id wire.DeviceID, name string, typ Type) {
	r.add(Record{ID: id, Name: name, Type: typ, Owner: owner})
}

func (r *Registry) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
	owned, ok := r.byOwner[rec.Owner]
	if !ok {
		owned = make(map[wire.DeviceID]struct{})
		r.byOwner[rec.Owner] = owned
	}
	owned[rec.ID] = struct{}{}
}

// RemoveDevice removes a single device record.
func (r *Registry) RemoveDevice(id wire.DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id wire.DeviceID) {
	rec, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if owned, ok := r.byOwner[rec.Owner]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(r.byOwner, rec.Owner)
		}
	}
}

// RemoveAllFrom removes every device owned by owner atomically, called
// before a peer leaves Connected so the registry never exposes a device
// whose owner isn't in the pool.
func (r *Registry) RemoveAllFrom(owner uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned, ok := r.byOwner[owner]
	if !ok {
		return 0
	}
	n := len(owned)
	for id := range owned {
		delete(r.byID, id)
	}
	delete(r.byOwner, owner)
	return n
}

// Get looks up a device by id.
func (r *Registry) Get(id wire.DeviceID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return rec, ok
}

// AllDevices returns a snapshot of every known device.
func (r *Registry) AllDevices() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}

// CountFrom returns how many devices are currently owned by owner.
func (r *Registry) CountFrom(owner uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[owner])
}
