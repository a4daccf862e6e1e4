package transport

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

// Handler receives a successfully decoded packet along with the UDP
// address it arrived from.
type Handler func(from *net.UDPAddr, packet wire.Packet)

// UdpMidiTransport is the connectionless datagram I/O layer: bind a
// socket, assign per-destination sequence numbers, encode,
// and transmit; decode incoming datagrams and hand them to a handler.
type UdpMidiTransport struct {
	self uuid.UUID
	conn *net.UDPConn

	seqMu sync.Mutex
	seq   map[uuid.UUID]uint16

	handlerMu sync.RWMutex
	handler   Handler

	closeOnce sync.Once
	done      chan struct{}

	PacketsSent     atomic.Int64
	PacketsReceived atomic.Int64
	DecodeErrors    atomic.Int64
}

// Bind opens a UDP socket on port (0 for OS-assigned) for self's traffic.
func Bind(self uuid.UUID, port int) (*UdpMidiTransport, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind udp: %w", err)
	}
	return &UdpMidiTransport{
		self: self,
		conn: conn,
		seq:  make(map[uuid.UUID]uint16),
		done: make(chan struct{}),
	}, nil
}

// LocalPort reports the bound (possibly OS-assigned) UDP port.
func (t *UdpMidiTransport) LocalPort() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetHandler installs the callback invoked for every successfully decoded
// incoming packet. Must be called before Start.
func (t *UdpMidiTransport) SetHandler(h Handler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// Start launches the receive loop in a background goroutine.
func (t *UdpMidiTransport) Start() {
	go t.receiveLoop()
}

// Close stops the receive loop and releases the socket.
func (t *UdpMidiTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *UdpMidiTransport) receiveLoop() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Printf("transport: udp read: %v", err)
			continue
		}

		packet, err := wire.Decode(buf[:n])
		if err != nil {
			t.DecodeErrors.Add(1)
			continue
		}
		t.PacketsReceived.Add(1)

		t.handlerMu.RLock()
		h := t.handler
		t.handlerMu.RUnlock()
		if h != nil {
			h(addr, packet)
		}
	}
}

// nextSequence returns the next sequence number for the (self, dest)
// ordered pair, wrapping at the u16 boundary.
func (t *UdpMidiTransport) nextSequence(dest uuid.UUID) uint16 {
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	s := t.seq[dest]
	t.seq[dest] = s + 1
	return s
}

// Send assigns the next sequence for dest, builds a packet and transmits
// it to addr. Returns the packet actually sent, so the reliable layer can
// key its pending-ack table off the assigned sequence.
func (t *UdpMidiTransport) Send(addr *net.UDPAddr, dest uuid.UUID, deviceID wire.DeviceID, payload []byte, flags byte, timestampUs uint32) (wire.Packet, error) {
	packet := wire.Packet{
		Flags:       flags,
		SourceNode:  t.self,
		DestNode:    dest,
		Sequence:    t.nextSequence(dest),
		TimestampUs: timestampUs,
		DeviceID:    deviceID,
		Payload:     payload,
	}
	return packet, t.SendPacket(addr, packet)
}

// SendPacket transmits an already-built packet as-is, used for
// retransmits where the sequence must not change.
func (t *UdpMidiTransport) SendPacket(addr *net.UDPAddr, packet wire.Packet) error {
	data, err := wire.AppendEncode(packet)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	t.PacketsSent.Add(1)
	return nil
}

// UdpStats is a point-in-time, JSON-friendly snapshot of the counters.
type UdpStats struct {
	PacketsSent     int64 `json:"packets_sent"`
	PacketsReceived int64 `json:"packets_received"`
	DecodeErrors    int64 `json:"decode_errors"`
}

func (t *UdpMidiTransport) Stats() UdpStats {
	return UdpStats{
		PacketsSent:     t.PacketsSent.Load(),
		PacketsReceived: t.PacketsReceived.Load(),
		DecodeErrors:    t.DecodeErrors.Load(),
	}
}
