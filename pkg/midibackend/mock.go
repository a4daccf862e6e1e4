package midibackend

import "sync"

// MockBackend is an in-memory Backend for tests and for running a node
// without any real hardware attached. Devices are pre-seeded by the
// caller via AddDevice; Sent messages on any opened output are captured
// for assertions.
type MockBackend struct {
	mu      sync.Mutex
	devices []Device
	inputs  map[string]*mockInput
	outputs map[string]*mockOutput
}

// NewMockBackend returns an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		inputs:  make(map[string]*mockInput),
		outputs: make(map[string]*mockOutput),
	}
}

// AddDevice registers a device id/name pair so it shows up in Enumerate.
func (b *MockBackend) AddDevice(id, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, Device{ID: id, Name: name})
}

func (b *MockBackend) Enumerate() []Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Device, len(b.devices))
	copy(out, b.devices)
	return out
}

func (b *MockBackend) OpenInput(id string) (InputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDevice(id) {
		return nil, ErrDeviceNotFound{ID: id}
	}
	in := &mockInput{}
	b.inputs[id] = in
	return in, nil
}

func (b *MockBackend) OpenOutput(id string) (OutputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDevice(id) {
		return nil, ErrDeviceNotFound{ID: id}
	}
	out := &mockOutput{}
	b.outputs[id] = out
	return out, nil
}

func (b *MockBackend) hasDevice(id string) bool {
	for _, d := range b.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Inject feeds payload into id's input port callback, simulating an
// incoming MIDI message from hardware. No-op if the port isn't open or
// has no callback registered.
func (b *MockBackend) Inject(id string, payload []byte) {
	b.mu.Lock()
	in, ok := b.inputs[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	in.deliver(payload)
}

// Sent returns every payload written to id's output port, in order.
func (b *MockBackend) Sent(id string) [][]byte {
	b.mu.Lock()
	out, ok := b.outputs[id]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return out.sentCopy()
}

type mockInput struct {
	mu sync.Mutex
	cb func([]byte)
}

func (p *mockInput) SetCallback(cb func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

func (p *mockInput) deliver(payload []byte) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(payload)
	}
}

func (p *mockInput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = nil
	return nil
}

type mockOutput struct {
	mu   sync.Mutex
	sent [][]byte
}

func (p *mockOutput) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.sent = append(p.sent, cp)
	return nil
}

func (p *mockOutput) sentCopy() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *mockOutput) Close() error { return nil }
