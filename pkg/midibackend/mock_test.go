package midibackend

import (
	"errors"
	"testing"
)

func TestMockBackendEnumerate(t *testing.T) {
	b := NewMockBackend()
	b.AddDevice("in-1", "Test Keyboard")
	b.AddDevice("out-1", "Test Synth")

	devs := b.Enumerate()
	if len(devs) != 2 {
		t.Fatalf("Enumerate len = %d, want 2", len(devs))
	}
}

func TestMockBackendOpenUnknownDevice(t *testing.T) {
	b := NewMockBackend()
	_, err := b.OpenInput("missing")
	var notFound ErrDeviceNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestMockBackendInputDeliversToCallback(t *testing.T) {
	b := NewMockBackend()
	b.AddDevice("in-1", "kb")
	port, err := b.OpenInput("in-1")
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	var got []byte
	port.SetCallback(func(payload []byte) { got = payload })

	b.Inject("in-1", []byte{0x90, 60, 100})
	if len(got) != 3 || got[0] != 0x90 {
		t.Fatalf("callback got %v", got)
	}
}

func TestMockBackendOutputCapturesSent(t *testing.T) {
	b := NewMockBackend()
	b.AddDevice("out-1", "synth")
	port, err := b.OpenOutput("out-1")
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}

	if err := port.Send([]byte{0x80, 60, 0}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := b.Sent("out-1")
	if len(sent) != 1 {
		t.Fatalf("Sent len = %d, want 1", len(sent))
	}
}

func TestMockBackendInjectWithNoCallbackIsNoop(t *testing.T) {
	b := NewMockBackend()
	b.AddDevice("in-1", "kb")
	if _, err := b.OpenInput("in-1"); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	b.Inject("in-1", []byte{0x90, 1, 1})
}
