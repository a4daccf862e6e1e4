package meshnet

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/devices"
	"github.com/oletizi/midimesh/pkg/discovery"
)

func TestManagerIgnoresSelfAdvertisement(t *testing.T) {
	self := uuid.New()
	pool := NewPool()
	registry := devices.NewRegistry()
	routes := devices.NewRoutingTable()
	m := NewManager(self, "self-node", 8080, 6000, pool, registry, routes, nil)

	ch := make(chan discovery.Event, 1)
	ch <- discovery.Event{Kind: discovery.PeerAppeared, Node: discovery.NodeInfo{ID: self}}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Run(ctx, ch)

	if m.SelfAdvertisementsIgnored.Load() != 1 {
		t.Fatalf("SelfAdvertisementsIgnored = %d, want 1", m.SelfAdvertisementsIgnored.Load())
	}
	if pool.Len() != 0 {
		t.Fatalf("pool should never contain self, Len = %d", pool.Len())
	}
}

func TestManagerHandshakeAddsDevicesAndRoutes(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := HandshakeResponse{
			NodeID:      peer.String(),
			NodeName:    "peer",
			UDPEndpoint: "127.0.0.1:7000",
			Version:     "1.0",
			Devices:     []HandshakeDevice{{ID: 3, Name: "peer-out", Type: "output"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	pool := NewPool()
	registry := devices.NewRegistry()
	routes := devices.NewRoutingTable()
	m := NewManager(self, "self-node", 9090, 6000, pool, registry, routes, nil)

	ch := make(chan discovery.Event, 1)
	ch <- discovery.Event{Kind: discovery.PeerAppeared, Node: discovery.NodeInfo{
		ID:       peer,
		Addr:     net.ParseIP(host),
		HTTPPort: port,
		UDPPort:  6000,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx, ch)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.CountFrom(peer) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if registry.CountFrom(peer) != 1 {
		t.Fatalf("expected 1 device registered from peer, got %d", registry.CountFrom(peer))
	}
	if _, ok := routes.GetRoute(3); !ok {
		t.Fatalf("expected route for device 3")
	}
	conn, ok := pool.Get(peer)
	if !ok || conn.State() != Connected {
		t.Fatalf("expected peer connected in pool, ok=%v state=%v", ok, conn)
	}
}

func TestManagerStateChangeTearsDownDevicesAndRoutes(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()

	pool := NewPool()
	registry := devices.NewRegistry()
	routes := devices.NewRoutingTable()
	m := NewManager(self, "self-node", 9090, 6000, pool, registry, routes, nil)

	registry.AddRemote(peer, 5, "peer-dev", devices.Output)
	routes.AddRoute(devices.Route{DeviceID: 5, Owner: peer})

	m.onStateChange(peer, Connected, Failed)

	if registry.CountFrom(peer) != 0 {
		t.Fatalf("expected devices removed after state change to Failed")
	}
	if _, ok := routes.GetRoute(5); ok {
		t.Fatalf("expected route removed after state change to Failed")
	}
}

func TestManagerSecondAppearanceOfSamePeerIsIgnored(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	pool := NewPool()
	registry := devices.NewRegistry()
	routes := devices.NewRoutingTable()
	m := NewManager(self, "self-node", 9090, 6000, pool, registry, routes, nil)

	pool.Insert(newTestConn(peer))

	ch := make(chan discovery.Event, 1)
	ch <- discovery.Event{Kind: discovery.PeerAppeared, Node: discovery.NodeInfo{ID: peer, Addr: net.ParseIP("127.0.0.1")}}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Run(ctx, ch)

	if pool.Len() != 1 {
		t.Fatalf("expected pool to still have exactly 1 entry, got %d", pool.Len())
	}
}
