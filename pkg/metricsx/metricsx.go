// Package metricsx exposes the atomic counters already held by
// pkg/devices, pkg/transport, and pkg/meshnet as a Prometheus registry, a
// side door for external scraping alongside the plain-atomic reads
// /network/stats uses directly (HTTP handlers must never
// block on a mesh worker thread, so the scrape path never touches them).
package metricsx

import (
	"github.com/oletizi/midimesh/pkg/devices"
	"github.com/oletizi/midimesh/pkg/meshnet"
	"github.com/oletizi/midimesh/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// Sources bundles every counter-holding component metricsx reads from.
// Fields may be nil; a nil field's gauges simply report zero.
type Sources struct {
	Router    *devices.Router
	Transport *transport.Combined
	Heartbeat *meshnet.HeartbeatMonitor
	Mesh      *meshnet.Manager
}

// Registry wraps a prometheus.Registry pre-populated with one GaugeFunc
// per counter, registered once at construction time.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry builds and registers every gauge against a fresh
// prometheus.Registry. Call Gatherer() on the result and pass it to
// promhttp.HandlerFor to serve a /metrics endpoint.
func NewRegistry(src Sources) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{reg: reg}

	gauge := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: "midimesh", Name: name, Help: help},
			fn,
		))
	}

	gauge("router_local_sent_total", "MIDI messages routed to a local port.", func() float64 {
		if src.Router == nil {
			return 0
		}
		return float64(src.Router.Stats.LocalSent.Load())
	})
	gauge("router_local_received_total", "MIDI messages delivered from the network to a local port.", func() float64 {
		if src.Router == nil {
			return 0
		}
		return float64(src.Router.Stats.LocalReceived.Load())
	})
	gauge("router_network_sent_total", "MIDI messages routed to a remote peer.", func() float64 {
		if src.Router == nil {
			return 0
		}
		return float64(src.Router.Stats.NetworkSent.Load())
	})
	gauge("router_network_received_total", "MIDI packets received from the network.", func() float64 {
		if src.Router == nil {
			return 0
		}
		return float64(src.Router.Stats.NetworkReceived.Load())
	})
	gauge("router_routing_errors_total", "Send attempts with no known route or port.", func() float64 {
		if src.Router == nil {
			return 0
		}
		return float64(src.Router.Stats.RoutingErrors.Load())
	})
	gauge("router_unknown_device_total", "Inbound packets addressed to an unknown local device.", func() float64 {
		if src.Router == nil {
			return 0
		}
		return float64(src.Router.Stats.UnknownDevice.Load())
	})

	gauge("transport_packets_sent_total", "UDP packets sent.", func() float64 {
		if src.Transport == nil {
			return 0
		}
		return float64(src.Transport.Stats().UDP.PacketsSent)
	})
	gauge("transport_packets_received_total", "UDP packets received.", func() float64 {
		if src.Transport == nil {
			return 0
		}
		return float64(src.Transport.Stats().UDP.PacketsReceived)
	})
	gauge("transport_decode_errors_total", "Inbound datagrams that failed to decode.", func() float64 {
		if src.Transport == nil {
			return 0
		}
		return float64(src.Transport.Stats().UDP.DecodeErrors)
	})
	gauge("transport_retransmits_total", "Reliable packets resent after an ack timeout.", func() float64 {
		if src.Transport == nil {
			return 0
		}
		return float64(src.Transport.Stats().Reliable.Retransmits)
	})
	gauge("transport_delivery_failures_total", "Reliable sends that exhausted their retry budget.", func() float64 {
		if src.Transport == nil {
			return 0
		}
		return float64(src.Transport.Stats().Reliable.DeliveryFailures)
	})

	gauge("heartbeat_sent_total", "Heartbeat probes sent to connected peers.", func() float64 {
		if src.Heartbeat == nil {
			return 0
		}
		return float64(src.Heartbeat.HeartbeatsSent.Load())
	})
	gauge("heartbeat_timeouts_total", "Peers evicted for missing heartbeats.", func() float64 {
		if src.Heartbeat == nil {
			return 0
		}
		return float64(src.Heartbeat.TimeoutsDetected.Load())
	})

	gauge("mesh_self_advertisements_ignored_total", "Discovery events for our own node id, ignored.", func() float64 {
		if src.Mesh == nil {
			return 0
		}
		return float64(src.Mesh.SelfAdvertisementsIgnored.Load())
	})
	gauge("mesh_total_discovered_total", "Peer discovery events seen for nodes other than this one.", func() float64 {
		if src.Mesh == nil {
			return 0
		}
		return float64(src.Mesh.TotalDiscovered.Load())
	})

	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for wiring into
// promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
