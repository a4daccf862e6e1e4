package discovery

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMulticastDiscoversPeer(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()

	a := NewMulticast(func() (uuid.UUID, int, int, int) { return idA, 8000, 6000, 1 }, "node-a")
	b := NewMulticast(func() (uuid.UUID, int, int, int) { return idB, 8001, 6001, 2 }, "node-b")

	evA, err := a.Start()
	if err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop()

	evB, err := b.Start()
	if err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Stop()

	select {
	case ev := <-evA:
		if ev.Kind != PeerAppeared {
			t.Fatalf("expected PeerAppeared, got %v", ev.Kind)
		}
		if ev.Node.ID != idB {
			t.Fatalf("a saw peer %s, want %s", ev.Node.ID, idB)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a to discover b")
	}

	select {
	case ev := <-evB:
		if ev.Node.ID != idA {
			t.Fatalf("b saw peer %s, want %s", ev.Node.ID, idA)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for b to discover a")
	}
}

func TestParseTXT(t *testing.T) {
	fields := parseTXT([]string{"uuid=abc-123", "udp_port=5353", "empty"})
	if fields["uuid"] != "abc-123" {
		t.Fatalf("uuid = %q", fields["uuid"])
	}
	if fields["udp_port"] != "5353" {
		t.Fatalf("udp_port = %q", fields["udp_port"])
	}
	if _, ok := fields["empty"]; ok {
		t.Fatalf("malformed entry with no '=' should be skipped")
	}
}

func TestAtoiOrFallback(t *testing.T) {
	if got := atoiOr("42", 0); got != 42 {
		t.Fatalf("atoiOr(42) = %d", got)
	}
	if got := atoiOr("not-a-number", 7); got != 7 {
		t.Fatalf("atoiOr fallback = %d, want 7", got)
	}
}
