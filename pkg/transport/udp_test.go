package transport

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

func TestUdpMidiTransportSendReceiveRoundTrip(t *testing.T) {
	selfA := uuid.New()
	selfB := uuid.New()

	a, err := Bind(selfA, 0)
	if err != nil {
		t.Fatalf("Bind a: %v", err)
	}
	defer a.Close()

	b, err := Bind(selfB, 0)
	if err != nil {
		t.Fatalf("Bind b: %v", err)
	}
	defer b.Close()

	received := make(chan wire.Packet, 1)
	b.SetHandler(func(from *net.UDPAddr, p wire.Packet) { received <- p })
	b.Start()
	a.Start()

	bAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalPort()}
	payload := []byte{0x90, 60, 100}
	if _, err := a.Send(bAddr, selfB, 7, payload, 0, 1234); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case p := <-received:
		if p.SourceNode != selfA {
			t.Fatalf("SourceNode = %s, want %s", p.SourceNode, selfA)
		}
		if p.DeviceID != 7 {
			t.Fatalf("DeviceID = %d, want 7", p.DeviceID)
		}
		if len(p.Payload) != 3 || p.Payload[0] != 0x90 {
			t.Fatalf("Payload = %v", p.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}

	if a.Stats().PacketsSent != 1 {
		t.Fatalf("a.PacketsSent = %d, want 1", a.Stats().PacketsSent)
	}
	if b.Stats().PacketsReceived != 1 {
		t.Fatalf("b.PacketsReceived = %d, want 1", b.Stats().PacketsReceived)
	}
}

func TestUdpMidiTransportDecodeErrorIncrementsCounter(t *testing.T) {
	self := uuid.New()
	b, err := Bind(self, 0)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer b.Close()
	b.Start()

	conn, err := net.Dial("udp4", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalPort()}).String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("not a valid midi packet"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Stats().DecodeErrors > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected DecodeErrors to increment")
}

func TestNextSequencePerDestinationIndependent(t *testing.T) {
	self := uuid.New()
	t1, err := Bind(self, 0)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer t1.Close()

	destA := uuid.New()
	destB := uuid.New()

	if s := t1.nextSequence(destA); s != 0 {
		t.Fatalf("first seq for destA = %d, want 0", s)
	}
	if s := t1.nextSequence(destA); s != 1 {
		t.Fatalf("second seq for destA = %d, want 1", s)
	}
	if s := t1.nextSequence(destB); s != 0 {
		t.Fatalf("first seq for destB = %d, want 0 (independent of destA)", s)
	}
}
