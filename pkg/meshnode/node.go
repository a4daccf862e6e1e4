// Package meshnode assembles identity, discovery, transport, mesh
// management, the device registry/router, and the HTTP surface into a
// single running node, and owns the ordered graceful shutdown sequence:
// stop discovery, stop heartbeat, drain/close transport, stop the HTTP
// server, release the instance lock.
package meshnode

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/api"
	"github.com/oletizi/midimesh/pkg/devices"
	"github.com/oletizi/midimesh/pkg/discovery"
	"github.com/oletizi/midimesh/pkg/events"
	"github.com/oletizi/midimesh/pkg/identity"
	"github.com/oletizi/midimesh/pkg/meshnet"
	"github.com/oletizi/midimesh/pkg/metricsx"
	"github.com/oletizi/midimesh/pkg/transport"
	"github.com/oletizi/midimesh/pkg/wire"
)

const shutdownStageTimeout = 5 * time.Second

// Node is the fully wired mesh participant: one identity, one discovery
// path, one transport, one mesh manager, one HTTP surface.
type Node struct {
	Identity identity.Identity
	guard    *identity.Guard

	Registry *devices.Registry
	Routes   *devices.RoutingTable
	Router   *devices.Router

	discoverer discovery.Discoverer
	discoCh    <-chan discovery.Event
	discoCtx   context.Context
	discoCancel context.CancelFunc

	Transport *transport.Combined
	Pool      *meshnet.Pool
	Manager   *meshnet.Manager
	Heartbeat *meshnet.HeartbeatMonitor

	Bus *events.Bus

	api     *api.Server
	apiNode *api.Node

	Metrics *metricsx.Registry
}

// Config controls how a Node is assembled.
type Config struct {
	ConfigDir string // identity.DefaultConfigDir() if empty
	HTTPPort  int    // 0 = OS-assigned
	UDPPort   int    // 0 = OS-assigned
	UseMulticastFallback bool
}

// New assembles every component: it loads the identity, takes the
// instance lock and binds the UDP transport socket, but binds no HTTP
// listener and starts no discovery, heartbeat or receive loop; call Start
// to bring the node up.
func New(cfg Config) (*Node, error) {
	configDir := cfg.ConfigDir
	if configDir == "" {
		dir, err := identity.DefaultConfigDir()
		if err != nil {
			return nil, fmt.Errorf("meshnode: resolve config dir: %w", err)
		}
		configDir = dir
	}

	id, err := identity.LoadOrCreate(configDir)
	if err != nil {
		return nil, fmt.Errorf("meshnode: load identity: %w", err)
	}

	guard, err := identity.Acquire(id.UUID())
	if err != nil {
		return nil, fmt.Errorf("meshnode: acquire instance lock: %w", err)
	}

	registry := devices.NewRegistry()
	routes := devices.NewRoutingTable()
	router := devices.NewRouter(routes, registry)
	pool := meshnet.NewPool()

	tr, err := transport.NewCombined(id.UUID(), cfg.UDPPort, pool)
	if err != nil {
		guard.Release()
		return nil, fmt.Errorf("meshnode: bind transport: %w", err)
	}
	router.SetSender(tr)
	touchHeartbeat := func(from uuid.UUID) {
		if conn, ok := pool.Get(from); ok {
			conn.TouchHeartbeat()
		}
	}
	tr.SetDeliverFunc(func(from uuid.UUID, deviceID wire.DeviceID, payload []byte) {
		touchHeartbeat(from)
		router.Deliver(from, deviceID, payload)
	})
	tr.SetHeartbeatFunc(touchHeartbeat)

	bus, err := events.NewBus()
	if err != nil {
		guard.Release()
		return nil, fmt.Errorf("meshnode: build event bus: %w", err)
	}

	manager := meshnet.NewManager(id.UUID(), id.Name(), cfg.HTTPPort, tr.LocalPort(), pool, registry, routes, bus)
	heartbeat := meshnet.NewHeartbeatMonitor(pool, tr, func(n int) {
		log.Printf("meshnode: reaped %d failed connection(s)", n)
	})

	var discoverer discovery.Discoverer

	n := &Node{
		Identity:  id,
		guard:     guard,
		Registry:  registry,
		Routes:    routes,
		Router:    router,
		Transport: tr,
		Pool:      pool,
		Manager:   manager,
		Heartbeat: heartbeat,
		Bus:       bus,
	}

	if cfg.UseMulticastFallback {
		discoverer = discovery.NewMulticast(n.selfInfo, id.Name())
	} else {
		discoverer = discovery.NewMDNS(n.selfInfo)
	}
	n.discoverer = discoverer

	n.Metrics = metricsx.NewRegistry(metricsx.Sources{
		Router:    router,
		Transport: tr,
		Heartbeat: heartbeat,
		Mesh:      manager,
	})

	n.apiNode = &api.Node{
		ID:       id.UUID(),
		Name:     id.Name(),
		Hostname: id.Hostname(),
		HTTPPort: cfg.HTTPPort,
		UDPPort:  tr.LocalPort(),
		Version:  "1.0",
		Registry: registry,
		Pool:     pool,
		Router:   router,
		Stats:    n,
		Metrics:  n.Metrics.Gatherer(),
	}
	n.api = api.NewServer(n.apiNode, cfg.HTTPPort)

	return n, nil
}

// HTTPPort reports the bound HTTP port, valid after Start.
func (n *Node) HTTPPort() int { return n.api.Port() }

// selfInfo satisfies discovery.SelfInfo, reading live state on each call.
// Multicast beacons therefore carry the current device count; mDNS TXT
// records are built from a single call at discovery start.
func (n *Node) selfInfo() (id uuid.UUID, httpPort, udpPort, deviceCount int) {
	return n.Identity.UUID(), n.api.Port(), n.Transport.LocalPort(), len(n.Registry.AllDevices())
}

// TransportStats implements api.StatsProvider.
func (n *Node) TransportStats() any { return n.Transport.Stats() }

// HeartbeatStats implements api.StatsProvider.
func (n *Node) HeartbeatStats() meshnet.HeartbeatStats { return n.Heartbeat.Stats() }

// MeshStatistics implements api.StatsProvider.
func (n *Node) MeshStatistics() meshnet.Statistics { return n.Manager.Statistics() }

// Start binds the HTTP listener, begins advertising/browsing for peers,
// starts the heartbeat monitor, and begins consuming discovery events.
func (n *Node) Start() error {
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("meshnode: start http: %w", err)
	}
	n.apiNode.HTTPPort = n.api.Port()

	ch, err := n.discoverer.Start()
	if err != nil {
		n.api.Stop()
		return fmt.Errorf("meshnode: start discovery: %w", err)
	}
	n.discoCh = ch

	n.Transport.Start()
	n.Heartbeat.Start()

	n.discoCtx, n.discoCancel = context.WithCancel(context.Background())
	go n.Manager.Run(n.discoCtx, n.discoCh)

	log.Printf("meshnode: node %s (%s) listening http=%d udp=%d",
		n.Identity.UUID(), n.Identity.Name(), n.api.Port(), n.Transport.LocalPort())
	return nil
}

// Shutdown runs the ordered teardown, each stage
// bounded by shutdownStageTimeout so a hung component can never wedge
// process exit.
func (n *Node) Shutdown(ctx context.Context) error {
	stage := func(name string, fn func()) {
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownStageTimeout):
			log.Printf("meshnode: shutdown stage %q did not complete within %s", name, shutdownStageTimeout)
		case <-ctx.Done():
		}
	}

	stage("discovery", func() {
		if n.discoCancel != nil {
			n.discoCancel()
		}
		if err := n.discoverer.Stop(); err != nil {
			log.Printf("meshnode: stop discovery: %v", err)
		}
	})

	stage("heartbeat", func() { n.Heartbeat.Stop() })

	stage("transport", func() {
		if err := n.Transport.Close(); err != nil {
			log.Printf("meshnode: close transport: %v", err)
		}
	})

	stage("http", func() { n.api.Stop() })

	n.Bus.Close()

	if err := n.guard.Release(); err != nil {
		return fmt.Errorf("meshnode: release instance lock: %w", err)
	}
	return nil
}
