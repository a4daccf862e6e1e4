package devices

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

// LocalPort is the narrow interface a local input/output port must satisfy
// to be driven by the router. Both MidiBackend-owned ports and
// VirtualMidiPort implement it.
type LocalPort interface {
	Send(payload []byte) error
}

// NetworkSender hands a MIDI payload bound for a remote device off to the
// transport layer. Implemented by the transport package's combined
// UDP + reliable sender; kept as an interface here so devices never
// imports transport (dependency runs the other way: transport is
// wire-only, devices depends on this interface, meshnode wires the two
// together at startup).
type NetworkSender interface {
	SendMIDI(dest uuid.UUID, deviceID wire.DeviceID, payload []byte, reliable bool) error
}

// RouterStats are the atomic dispatch counters exposed over HTTP.
type RouterStats struct {
	LocalSent       atomic.Int64
	LocalReceived   atomic.Int64
	NetworkSent     atomic.Int64
	NetworkReceived atomic.Int64
	RoutingErrors   atomic.Int64
	UnknownDevice   atomic.Int64
}

// Snapshot is a point-in-time copy of RouterStats suitable for JSON
// encoding (atomic.Int64 itself is not safely copyable/marshalable).
type Snapshot struct {
	LocalSent       int64 `json:"local_sent"`
	LocalReceived   int64 `json:"local_received"`
	NetworkSent     int64 `json:"network_sent"`
	NetworkReceived int64 `json:"network_received"`
	RoutingErrors   int64 `json:"routing_errors"`
	UnknownDevice   int64 `json:"unknown_device"`
}

func (s *RouterStats) Snapshot() Snapshot {
	return Snapshot{
		LocalSent:       s.LocalSent.Load(),
		LocalReceived:   s.LocalReceived.Load(),
		NetworkSent:     s.NetworkSent.Load(),
		NetworkReceived: s.NetworkReceived.Load(),
		RoutingErrors:   s.RoutingErrors.Load(),
		UnknownDevice:   s.UnknownDevice.Load(),
	}
}

// Router dispatches MIDI byte vectors to the right destination, local or
// remote.
type Router struct {
	routes     *RoutingTable
	registry   *Registry
	localPorts *localPortMap
	sender     NetworkSender
	Stats      RouterStats
}

// NewRouter builds a Router. sender may be nil until the transport layer
// finishes initializing; Send will fail with an error for remote routes
// until it is set via SetSender.
func NewRouter(routes *RoutingTable, registry *Registry) *Router {
	return &Router{
		routes:     routes,
		registry:   registry,
		localPorts: newLocalPortMap(),
	}
}

// SetSender wires the network transport in after construction, breaking
// the natural init-order cycle between devices and transport.
func (r *Router) SetSender(sender NetworkSender) { r.sender = sender }

// RegisterLocalPort makes a local port reachable by device id.
func (r *Router) RegisterLocalPort(id wire.DeviceID, port LocalPort) {
	r.localPorts.set(id, port)
}

// UnregisterLocalPort removes a local port, e.g. on device disconnect.
func (r *Router) UnregisterLocalPort(id wire.DeviceID) {
	r.localPorts.delete(id)
}

// Send routes outbound MIDI bytes from a local source to device id,
// either straight to a local port or out over the network.
func (r *Router) Send(id wire.DeviceID, payload []byte) error {
	route, ok := r.routes.GetRoute(id)
	if !ok {
		r.Stats.RoutingErrors.Add(1)
		return errNoRoute(id)
	}

	if route.IsLocal() {
		port, ok := r.localPorts.get(id)
		if !ok {
			r.Stats.RoutingErrors.Add(1)
			return errNoRoute(id)
		}
		r.Stats.LocalSent.Add(1)
		return port.Send(payload)
	}

	if r.sender == nil {
		r.Stats.RoutingErrors.Add(1)
		return errNoRoute(id)
	}
	reliable := wire.IsSysEx(payload) || len(payload) > 3
	r.Stats.NetworkSent.Add(1)
	return r.sender.SendMIDI(route.Owner, id, payload, reliable)
}

// Deliver is invoked by the transport/buffer layer on a decoded packet
// addressed to this node. Unknown local devices are dropped and counted.
func (r *Router) Deliver(from uuid.UUID, id wire.DeviceID, payload []byte) {
	rec, ok := r.registry.Get(id)
	if !ok || !rec.IsLocal() {
		r.Stats.UnknownDevice.Add(1)
		return
	}
	port, ok := r.localPorts.get(id)
	if !ok {
		r.Stats.UnknownDevice.Add(1)
		return
	}
	r.Stats.NetworkReceived.Add(1)
	_ = port.Send(payload)
	r.Stats.LocalReceived.Add(1)
}

type routingError struct{ id wire.DeviceID }

func (e routingError) Error() string { return "devices: no route for device " + wireDeviceString(e.id) }

func errNoRoute(id wire.DeviceID) error { return routingError{id: id} }

func wireDeviceString(id wire.DeviceID) string {
	const hex = "0123456789abcdef"
	b := [4]byte{}
	v := uint16(id)
	for i := 3; i >= 0; i-- {
		b[i] = hex[v&0xF]
		v >>= 4
	}
	return string(b[:])
}
