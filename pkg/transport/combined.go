package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

// DeliverFunc is invoked once per in-order, deduplicated packet destined
// for a local device. It satisfies the same shape as devices.Router.Deliver
// without this package importing the devices package (dependency runs the
// other way: devices defines NetworkSender, this type implements it).
type DeliverFunc func(from uuid.UUID, deviceID wire.DeviceID, payload []byte)

// HeartbeatFunc is invoked for every received heartbeat packet, letting
// the mesh layer refresh a connection's liveness timestamp.
type HeartbeatFunc func(from uuid.UUID)

// Combined wires UdpMidiTransport, ReliableTransport, and a per-source
// MessageBuffer together into the single send/receive surface the rest of
// the mesh depends on. It implements devices.NetworkSender.
type Combined struct {
	udp      *UdpMidiTransport
	reliable *ReliableTransport
	resolver AddrResolver

	deliver   DeliverFunc
	heartbeat HeartbeatFunc

	mu      sync.Mutex
	buffers map[uuid.UUID]*MessageBuffer

	startedOnce sync.Once
}

// NewCombined builds the combined transport. deliver/heartbeat may be set
// later via SetDeliverFunc/SetHeartbeatFunc if the router/mesh manager
// aren't constructed yet when the transport binds.
func NewCombined(self uuid.UUID, port int, resolver AddrResolver) (*Combined, error) {
	udp, err := Bind(self, port)
	if err != nil {
		return nil, err
	}
	reliable, err := NewReliableTransport(udp, resolver)
	if err != nil {
		return nil, err
	}
	c := &Combined{
		udp:      udp,
		reliable: reliable,
		resolver: resolver,
		buffers:  make(map[uuid.UUID]*MessageBuffer),
	}
	udp.SetHandler(c.onPacket)
	return c, nil
}

func (c *Combined) SetDeliverFunc(f DeliverFunc)     { c.deliver = f }
func (c *Combined) SetHeartbeatFunc(f HeartbeatFunc)  { c.heartbeat = f }

// LocalPort reports the bound UDP port (0 requested at construction means
// OS-assigned; this returns the actual value).
func (c *Combined) LocalPort() int { return c.udp.LocalPort() }

// Start begins the UDP receive loop and the reliable-transport retry
// loop. Safe to call once.
func (c *Combined) Start() {
	c.startedOnce.Do(func() {
		c.udp.Start()
		c.reliable.Start()
	})
}

// Close shuts down both the retry loop and the UDP socket.
func (c *Combined) Close() error {
	c.reliable.Close()
	return c.udp.Close()
}

// SendMIDI implements devices.NetworkSender: it resolves dest's UDP
// endpoint and sends either via the reliable layer (ack + retry) or
// straight over UDP, per the reliable flag the router decided on.
func (c *Combined) SendMIDI(dest uuid.UUID, deviceID wire.DeviceID, payload []byte, reliable bool) error {
	timestampUs := uint32(time.Now().UnixMicro())

	if reliable {
		return c.reliable.SendReliable(dest, deviceID, payload, timestampUs)
	}

	addr, ok := c.resolver.ResolveUDP(dest)
	if !ok {
		return errNoEndpoint(dest)
	}
	_, err := c.udp.Send(addr, dest, deviceID, payload, 0, timestampUs)
	return err
}

// SendHeartbeat transmits a zero-payload heartbeat packet to dest.
func (c *Combined) SendHeartbeat(dest uuid.UUID) error {
	addr, ok := c.resolver.ResolveUDP(dest)
	if !ok {
		return errNoEndpoint(dest)
	}
	packet := wire.NewHeartbeat(c.udp.self, uint32(time.Now().UnixMicro()))
	packet.DestNode = dest
	return c.udp.SendPacket(addr, packet)
}

func (c *Combined) onPacket(from *net.UDPAddr, packet wire.Packet) {
	c.reliable.HandleIncoming(packet, from)

	if packet.Heartbeat() {
		if c.heartbeat != nil {
			c.heartbeat(packet.SourceNode)
		}
		return
	}
	if packet.Ack() {
		return
	}

	buf := c.bufferFor(packet.SourceNode)
	deliver := c.deliver
	payload := packet.Payload
	source := packet.SourceNode
	deviceID := packet.DeviceID
	buf.Feed(packet.Sequence, func() {
		if deliver != nil {
			deliver(source, deviceID, payload)
		}
	})
}

func (c *Combined) bufferFor(source uuid.UUID) *MessageBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[source]
	if !ok {
		buf = NewMessageBuffer()
		c.buffers[source] = buf
	}
	return buf
}

// Stats aggregates every transport-layer counter for the /network/stats
// HTTP view.
type Stats struct {
	UDP      UdpStats      `json:"udp"`
	Reliable ReliableStats `json:"reliable"`
}

func (c *Combined) Stats() Stats {
	return Stats{UDP: c.udp.Stats(), Reliable: c.reliable.Stats()}
}

type noEndpointError struct{ dest uuid.UUID }

func (e noEndpointError) Error() string { return "transport: no udp endpoint for " + e.dest.String() }

func errNoEndpoint(dest uuid.UUID) error { return noEndpointError{dest: dest} }
