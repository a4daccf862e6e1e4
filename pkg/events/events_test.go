package events

import "testing"

func TestNewBusDisabledWithoutURL(t *testing.T) {
	t.Setenv("MIDIMESH_NATS_URL", "")

	bus, err := NewBus()
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	if bus.enabled {
		t.Fatalf("expected bus to be disabled without MIDIMESH_NATS_URL")
	}
}

func TestDisabledBusPublishIsNoop(t *testing.T) {
	bus := &Bus{enabled: false}
	bus.Publish(PeerAppeared, "node-1", "")
	bus.Close()
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(PeerGone, "node-1", "")
	bus.Close()
}
