// Package api exposes the node's read-only JSON views and the one
// handshake endpoint over net/http. Handlers read
// directly off registry/pool/router state and never call into a worker
// goroutine and wait.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/devices"
	"github.com/oletizi/midimesh/pkg/meshnet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Node is the narrow slice of node state the HTTP surface reads from.
type Node struct {
	ID         uuid.UUID
	Name       string
	Hostname   string
	HTTPPort   int
	UDPPort    int
	Version    string
	Registry   *devices.Registry
	Pool       *meshnet.Pool
	Router     *devices.Router
	Stats      StatsProvider
	// Metrics is optional; when set, its gauges are exposed at /metrics
	// for Prometheus scraping. Nil mounts no metrics handler.
	Metrics prometheus.Gatherer
}

// StatsProvider supplies the transport/heartbeat counters folded into
// /network/stats; implemented by the node's wiring layer so this package
// never imports the transport package directly.
type StatsProvider interface {
	TransportStats() any
	HeartbeatStats() meshnet.HeartbeatStats
	MeshStatistics() meshnet.Statistics
}

// Server hosts the HTTP surface.
type Server struct {
	node *Node
	http *http.Server

	wg sync.WaitGroup
}

// NewServer builds a Server that will listen on port (0 for OS-assigned).
func NewServer(node *Node, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{node: node}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/node/info", s.handleNodeInfo)
	mux.HandleFunc("/midi/devices", s.handleDevices)
	mux.HandleFunc("/network/mesh", s.handleMesh)
	mux.HandleFunc("/network/stats", s.handleStats)
	mux.HandleFunc("/network/handshake", s.handleHandshake)
	if node.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(node.Metrics, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start begins serving in the background. Returns once the listener is
// bound so the caller can read the actual port if 0 was requested.
func (s *Server) Start() error {
	ln, err := newListener(s.http.Addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.http.Addr = ln.Addr().String()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api: server error: %v", err)
		}
	}()
	return nil
}

// Port reports the bound TCP port, valid after Start.
func (s *Server) Port() int {
	return addrPort(s.http.Addr)
}

// Stop closes the HTTP server immediately, without draining in-flight
// requests, and waits for the serve goroutine to exit.
func (s *Server) Stop() {
	if s.http != nil {
		s.http.Close()
		s.wg.Wait()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, map[string]string{"status": "ok"})
}

type nodeInfoResponse struct {
	UUID          string `json:"uuid"`
	Name          string `json:"name"`
	Hostname      string `json:"hostname"`
	HTTPPort      int    `json:"http_port"`
	UDPPort       int    `json:"udp_port"`
	LocalDevices  int    `json:"local_devices"`
	TotalDevices  int    `json:"total_devices"`
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	all := s.node.Registry.AllDevices()
	local := 0
	for _, d := range all {
		if d.IsLocal() {
			local++
		}
	}
	sendJSON(w, nodeInfoResponse{
		UUID:         s.node.ID.String(),
		Name:         s.node.Name,
		Hostname:     s.node.Hostname,
		HTTPPort:     s.node.HTTPPort,
		UDPPort:      s.node.UDPPort,
		LocalDevices: local,
		TotalDevices: len(all),
	})
}

type deviceView struct {
	ID       uint16 `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsLocal  bool   `json:"is_local"`
	OwnerNode string `json:"owner_node"`
}

type devicesResponse struct {
	Devices []deviceView `json:"devices"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	all := s.node.Registry.AllDevices()
	out := make([]deviceView, 0, len(all))
	for _, d := range all {
		out = append(out, deviceView{
			ID:        uint16(d.ID),
			Name:      d.Name,
			Type:      d.Type.String(),
			IsLocal:   d.IsLocal(),
			OwnerNode: d.Owner.String(),
		})
	}
	sendJSON(w, devicesResponse{Devices: out})
}

type meshNodeView struct {
	UUID     string   `json:"uuid"`
	Name     string   `json:"name"`
	IP       string   `json:"ip"`
	HTTPPort int      `json:"http_port"`
	UDPPort  int      `json:"udp_port"`
	Devices  []uint16 `json:"devices"`
}

type meshResponse struct {
	ConnectedNodes int            `json:"connected_nodes"`
	TotalNodes     int            `json:"total_nodes"`
	TotalDevices   int            `json:"total_devices"`
	Nodes          []meshNodeView `json:"nodes"`
}

func (s *Server) handleMesh(w http.ResponseWriter, r *http.Request) {
	all := s.node.Pool.All()
	connected := 0
	nodes := make([]meshNodeView, 0, len(all))
	for _, c := range all {
		if c.State() == meshnet.Connected {
			connected++
		}
		addr, _ := c.UDPEndpoint()
		ip, udpPort := "", 0
		if addr != nil {
			ip, udpPort = addr.IP.String(), addr.Port
		}
		var devIDs []uint16
		for _, d := range c.Devices() {
			devIDs = append(devIDs, d.ID)
		}
		nodes = append(nodes, meshNodeView{
			UUID:     c.PeerID().String(),
			Name:     c.PeerName(),
			IP:       ip,
			HTTPPort: c.HTTPPort(),
			UDPPort:  udpPort,
			Devices:  devIDs,
		})
	}

	sendJSON(w, meshResponse{
		ConnectedNodes: connected,
		TotalNodes:     len(all),
		TotalDevices:   len(s.node.Registry.AllDevices()),
		Nodes:          nodes,
	})
}

type statsResponse struct {
	Router    devices.Snapshot       `json:"router"`
	Transport any                    `json:"transport"`
	Heartbeat meshnet.HeartbeatStats `json:"heartbeat"`
	Mesh      meshnet.Statistics     `json:"mesh"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, statsResponse{
		Router:    s.node.Router.Stats.Snapshot(),
		Transport: s.node.Stats.TransportStats(),
		Heartbeat: s.node.Stats.HeartbeatStats(),
		Mesh:      s.node.Stats.MeshStatistics(),
	})
}

type handshakeRequest struct {
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name"`
	UDPEndpoint string `json:"udp_endpoint"`
	Version     string `json:"version"`
}

type handshakeDeviceView struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type handshakeResponse struct {
	NodeID      string                `json:"node_id"`
	NodeName    string                `json:"node_name"`
	UDPEndpoint string                `json:"udp_endpoint"`
	Version     string                `json:"version"`
	Devices     []handshakeDeviceView `json:"devices"`
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UDPEndpoint == "" {
		sendError(w, "udp_endpoint is required", http.StatusBadRequest)
		return
	}

	all := s.node.Registry.AllDevices()
	devs := make([]handshakeDeviceView, 0, len(all))
	for _, d := range all {
		if !d.IsLocal() {
			continue
		}
		devs = append(devs, handshakeDeviceView{ID: uint16(d.ID), Name: d.Name, Type: d.Type.String()})
	}

	sendJSON(w, handshakeResponse{
		NodeID:      s.node.ID.String(),
		NodeName:    s.node.Name,
		UDPEndpoint: net.JoinHostPort(localIP(), strconv.Itoa(s.node.UDPPort)),
		Version:     "1.0",
		Devices:     devs,
	})
}

// localIP best-effort reports the outbound LAN address of this host by
// dialing a UDP socket and reading the address the OS chose, without
// sending any packet. The handshake response must carry a routable IP:
// the wildcard bind address 0.0.0.0 only "works" for a peer on the same
// host (it resolves to loopback there) and is unreachable from anywhere
// else on the mesh. Falls back to loopback if the host has no route.
func localIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func sendJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error string `json:"error"`
}

func sendError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}
