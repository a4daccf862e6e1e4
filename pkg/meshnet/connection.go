// Package meshnet glues discovery events to per-peer connections, owns
// the connection pool, and runs the heartbeat monitor.
package meshnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/devices"
)

// State is a NetworkConnection's lifecycle stage.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandshakeRequest is the POST /network/handshake request body.
type HandshakeRequest struct {
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name"`
	UDPEndpoint string `json:"udp_endpoint"`
	Version     string `json:"version"`
}

// HandshakeDevice mirrors one entry of the handshake response's device list.
type HandshakeDevice struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// HandshakeResponse is the POST /network/handshake response body.
type HandshakeResponse struct {
	NodeID      string            `json:"node_id"`
	NodeName    string            `json:"node_name"`
	UDPEndpoint string            `json:"udp_endpoint"`
	Version     string            `json:"version"`
	Devices     []HandshakeDevice `json:"devices"`
}

// Callbacks groups the three observer hooks that must never
// be invoked while holding the connection's internal lock.
type Callbacks struct {
	OnStateChange        func(peer uuid.UUID, from, to State)
	OnError               func(peer uuid.UUID, reason string)
	OnDeviceListReceived func(peer uuid.UUID, devs []HandshakeDevice)
}

// NetworkConnection is one peer's connection lifecycle.
type NetworkConnection struct {
	peerID   uuid.UUID
	peerName string
	httpAddr string // peer's "ip:http_port", used for the handshake POST
	httpPort int
	self     HandshakeRequest

	state atomic.Int32

	mu          sync.RWMutex
	udpEndpoint *net.UDPAddr
	failReason  string
	deviceList  []HandshakeDevice

	lastHeartbeat atomic.Int64 // unix nanos

	callbacks Callbacks
	client    *http.Client
}

// NewNetworkConnection builds a connection to peerID reachable at
// httpAddr ("ip:port"), identifying ourselves with self on handshake.
// name and httpPort are carried through purely for the /network/mesh
// HTTP view; neither affects connection behavior.
func NewNetworkConnection(peerID uuid.UUID, name, httpAddr string, httpPort int, self HandshakeRequest, cb Callbacks) *NetworkConnection {
	c := &NetworkConnection{
		peerID:    peerID,
		peerName:  name,
		httpAddr:  httpAddr,
		httpPort:  httpPort,
		self:      self,
		callbacks: cb,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
	c.state.Store(int32(Disconnected))
	c.lastHeartbeat.Store(time.Now().UnixNano())
	return c
}

func (c *NetworkConnection) PeerID() uuid.UUID { return c.peerID }

// PeerName returns the display name discovery reported for this peer.
func (c *NetworkConnection) PeerName() string { return c.peerName }

// HTTPPort returns the peer's advertised HTTP port.
func (c *NetworkConnection) HTTPPort() int { return c.httpPort }

func (c *NetworkConnection) State() State { return State(c.state.Load()) }

func (c *NetworkConnection) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from != to && c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(c.peerID, from, to)
	}
}

// Connect performs the HTTP handshake and transitions
// Disconnected -> Connecting -> Connected (or -> Failed on error).
func (c *NetworkConnection) Connect(ctx context.Context) error {
	c.setState(Connecting)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(c.self)
	if err != nil {
		return c.fail(fmt.Sprintf("marshal handshake request: %v", err))
	}

	url := fmt.Sprintf("http://%s/network/handshake", c.httpAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.fail(fmt.Sprintf("build handshake request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.fail(fmt.Sprintf("handshake http error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fail(fmt.Sprintf("handshake returned status %d", resp.StatusCode))
	}

	var hresp HandshakeResponse
	if err := json.NewDecoder(resp.Body).Decode(&hresp); err != nil {
		return c.fail(fmt.Sprintf("handshake json malformed: %v", err))
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", hresp.UDPEndpoint)
	if err != nil {
		return c.fail(fmt.Sprintf("handshake udp_endpoint unparsable %q: %v", hresp.UDPEndpoint, err))
	}

	c.mu.Lock()
	c.udpEndpoint = udpAddr
	c.deviceList = hresp.Devices
	c.mu.Unlock()

	c.touchHeartbeat()
	c.setState(Connected)

	if c.callbacks.OnDeviceListReceived != nil {
		c.callbacks.OnDeviceListReceived(c.peerID, hresp.Devices)
	}
	return nil
}

func (c *NetworkConnection) fail(reason string) error {
	c.mu.Lock()
	c.failReason = reason
	c.mu.Unlock()
	c.setState(Failed)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(c.peerID, reason)
	}
	return fmt.Errorf("meshnet: %s", reason)
}

// Disconnect idempotently moves the connection to Disconnected.
func (c *NetworkConnection) Disconnect() {
	c.setState(Disconnected)
}

// UDPEndpoint returns the peer's UDP address, valid once Connected.
func (c *NetworkConnection) UDPEndpoint() (*net.UDPAddr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.udpEndpoint, c.udpEndpoint != nil
}

// Devices returns the device list received at handshake time.
func (c *NetworkConnection) Devices() []HandshakeDevice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HandshakeDevice, len(c.deviceList))
	copy(out, c.deviceList)
	return out
}

// FailReason returns why the connection moved to Failed, if it has.
func (c *NetworkConnection) FailReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failReason
}

// TouchHeartbeat refreshes the liveness timestamp; called on any incoming
// heartbeat or data packet from this peer.
func (c *NetworkConnection) TouchHeartbeat() { c.touchHeartbeat() }

func (c *NetworkConnection) touchHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat returns the instant of the most recent incoming heartbeat
// or data packet.
func (c *NetworkConnection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

func (c *NetworkConnection) TimeSinceLastHeartbeat() time.Duration {
	return time.Since(c.LastHeartbeat())
}

func (c *NetworkConnection) IsAlive(threshold time.Duration) bool {
	return c.TimeSinceLastHeartbeat() <= threshold
}

// DeviceTypeString renders a devices.Type for the handshake wire format.
func DeviceTypeString(t devices.Type) string { return t.String() }

func parseDeviceType(s string) devices.Type {
	if s == "input" {
		return devices.Input
	}
	return devices.Output
}
