package metricsx

import (
	"testing"

	"github.com/oletizi/midimesh/pkg/devices"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestRegistryReportsRouterCounters(t *testing.T) {
	router := devices.NewRouter(devices.NewRoutingTable(), devices.NewRegistry())
	router.Stats.LocalSent.Add(3)
	router.Stats.RoutingErrors.Add(1)

	reg := NewRegistry(Sources{Router: router})

	families, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			got[mf.GetName()] = gaugeValue(m)
		}
	}

	if got["midimesh_router_local_sent_total"] != 3 {
		t.Fatalf("local_sent = %v, want 3", got["midimesh_router_local_sent_total"])
	}
	if got["midimesh_router_routing_errors_total"] != 1 {
		t.Fatalf("routing_errors = %v, want 1", got["midimesh_router_routing_errors_total"])
	}
	if got["midimesh_router_network_sent_total"] != 0 {
		t.Fatalf("network_sent = %v, want 0", got["midimesh_router_network_sent_total"])
	}
}

func TestRegistryToleratesNilSources(t *testing.T) {
	reg := NewRegistry(Sources{})
	families, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected gauges to still be registered with nil sources")
	}
}

func gaugeValue(m *io_prometheus_client.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	return 0
}
