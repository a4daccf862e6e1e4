package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

const (
	retryInterval = 100 * time.Millisecond
	maxAttempts   = 3
	// ackDedupSize bounds the short-lived set of (source, sequence) pairs
	// recently acked, so a sender's retransmits don't produce duplicate
	// acks.
	ackDedupSize = 4096
)

// AddrResolver maps a peer NodeId to its UDP endpoint. Implemented by the
// connection pool so the transport layer never needs to know about
// NetworkConnection.
type AddrResolver interface {
	ResolveUDP(dest uuid.UUID) (*net.UDPAddr, bool)
}

// DeliveryFailedEvent is emitted once a reliable packet exhausts its
// retry budget unacked.
type DeliveryFailedEvent struct {
	Dest     uuid.UUID
	Sequence uint16
}

type pendingKey struct {
	dest uuid.UUID
	seq  uint16
}

type pendingEntry struct {
	packet      wire.Packet
	addr        *net.UDPAddr
	attempts    int
	nextRetryAt time.Time
}

// ReliableTransport adds ack-and-retransmit semantics on top of
// UdpMidiTransport for packets marked reliable.
type ReliableTransport struct {
	udp      *UdpMidiTransport
	resolver AddrResolver

	mu      sync.Mutex
	pending map[pendingKey]*pendingEntry

	ackSeen *lru.Cache[pendingKey, struct{}]

	Failed chan DeliveryFailedEvent

	Retransmits     atomic.Int64
	DeliveryFailures atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewReliableTransport wraps udp with ack/retry bookkeeping. Incoming
// packets must be routed to HandleIncoming by the caller (typically via
// udp.SetHandler or a dispatching wrapper).
func NewReliableTransport(udp *UdpMidiTransport, resolver AddrResolver) (*ReliableTransport, error) {
	cache, err := lru.New[pendingKey, struct{}](ackDedupSize)
	if err != nil {
		return nil, fmt.Errorf("transport: ack dedup cache: %w", err)
	}
	return &ReliableTransport{
		udp:      udp,
		resolver: resolver,
		pending:  make(map[pendingKey]*pendingEntry),
		ackSeen:  cache,
		Failed:   make(chan DeliveryFailedEvent, 16),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the retry-scan loop.
func (r *ReliableTransport) Start() {
	r.wg.Add(1)
	go r.retryLoop()
}

// Close stops the retry loop.
func (r *ReliableTransport) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}

// SendReliable transmits payload to dest/deviceID with the reliable flag
// set, registering it in the pending-ack table for retry.
func (r *ReliableTransport) SendReliable(dest uuid.UUID, deviceID wire.DeviceID, payload []byte, timestampUs uint32) error {
	addr, ok := r.resolver.ResolveUDP(dest)
	if !ok {
		return fmt.Errorf("transport: no udp endpoint for %s", dest)
	}

	packet, err := r.udp.Send(addr, dest, deviceID, payload, wire.FlagReliable, timestampUs)
	if err != nil {
		return err
	}

	key := pendingKey{dest: dest, seq: packet.Sequence}
	r.mu.Lock()
	r.pending[key] = &pendingEntry{
		packet:      packet,
		addr:        addr,
		attempts:    1,
		nextRetryAt: time.Now().Add(retryInterval),
	}
	r.mu.Unlock()
	return nil
}

func (r *ReliableTransport) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.scanPending()
		}
	}
}

func (r *ReliableTransport) scanPending() {
	now := time.Now()
	var toRetry []*pendingEntry
	var toFail []pendingKey

	r.mu.Lock()
	for key, entry := range r.pending {
		if now.Before(entry.nextRetryAt) {
			continue
		}
		if entry.attempts >= maxAttempts {
			toFail = append(toFail, key)
			continue
		}
		entry.attempts++
		entry.nextRetryAt = now.Add(retryInterval)
		toRetry = append(toRetry, entry)
	}
	for _, key := range toFail {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	for _, entry := range toRetry {
		r.Retransmits.Add(1)
		_ = r.udp.SendPacket(entry.addr, entry.packet)
	}
	for _, key := range toFail {
		r.DeliveryFailures.Add(1)
		select {
		case r.Failed <- DeliveryFailedEvent{Dest: key.dest, Sequence: key.seq}:
		default:
		}
	}
}

// HandleIncoming processes a decoded packet before it reaches the
// MessageBuffer: clears pending entries on ack, and enqueues an ack for
// newly-observed reliable packets (deduped per source/sequence).
func (r *ReliableTransport) HandleIncoming(packet wire.Packet, fromAddr *net.UDPAddr) {
	if packet.Ack() {
		seq, err := wire.AckedSequence(packet)
		if err != nil {
			return
		}
		key := pendingKey{dest: packet.SourceNode, seq: seq}
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		return
	}

	if !packet.Reliable() {
		return
	}

	key := pendingKey{dest: packet.SourceNode, seq: packet.Sequence}
	if _, seen := r.ackSeen.Get(key); seen {
		return
	}
	r.ackSeen.Add(key, struct{}{})

	ack := wire.NewAck(r.udpSelf(), packet.SourceNode, packet.Sequence, 0)
	_ = r.udp.SendPacket(fromAddr, ack)
}

func (r *ReliableTransport) udpSelf() uuid.UUID { return r.udp.self }

// ReliableStats is a JSON-friendly snapshot of retry/failure counters.
type ReliableStats struct {
	Retransmits      int64 `json:"retransmits"`
	DeliveryFailures int64 `json:"delivery_failures"`
}

func (r *ReliableTransport) Stats() ReliableStats {
	return ReliableStats{
		Retransmits:      r.Retransmits.Load(),
		DeliveryFailures: r.DeliveryFailures.Load(),
	}
}
