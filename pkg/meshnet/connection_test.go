package meshnet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNetworkConnectionConnectSuccess(t *testing.T) {
	peerID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req HandshakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := HandshakeResponse{
			NodeID:      peerID.String(),
			NodeName:    "peer-b",
			UDPEndpoint: "127.0.0.1:6001",
			Version:     "1.0",
			Devices: []HandshakeDevice{
				{ID: 1, Name: "Peer Synth", Type: "output"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	var gotDevices []HandshakeDevice
	var stateTransitions []State

	conn := NewNetworkConnection(peerID, "peer", srv.Listener.Addr().String(), 0, HandshakeRequest{NodeID: "self"}, Callbacks{
		OnStateChange: func(peer uuid.UUID, from, to State) { stateTransitions = append(stateTransitions, to) },
		OnDeviceListReceived: func(peer uuid.UUID, devs []HandshakeDevice) { gotDevices = devs },
	})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != Connected {
		t.Fatalf("State = %v, want Connected", conn.State())
	}
	if len(stateTransitions) < 2 || stateTransitions[len(stateTransitions)-1] != Connected {
		t.Fatalf("state transitions = %v, want ending in Connected", stateTransitions)
	}
	if len(gotDevices) != 1 || gotDevices[0].Name != "Peer Synth" {
		t.Fatalf("gotDevices = %v", gotDevices)
	}
	addr, ok := conn.UDPEndpoint()
	if !ok || addr.Port != 6001 {
		t.Fatalf("UDPEndpoint = %v, ok=%v", addr, ok)
	}
}

func TestNetworkConnectionHandshakeHTTPErrorGoesToFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var errReason string
	conn := NewNetworkConnection(uuid.New(), "peer", srv.Listener.Addr().String(), 0, HandshakeRequest{}, Callbacks{
		OnError: func(peer uuid.UUID, reason string) { errReason = reason },
	})

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if conn.State() != Failed {
		t.Fatalf("State = %v, want Failed", conn.State())
	}
	if errReason == "" {
		t.Fatalf("expected OnError callback with a reason")
	}
}

func TestNetworkConnectionMalformedJSONGoesToFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	conn := NewNetworkConnection(uuid.New(), "peer", srv.Listener.Addr().String(), 0, HandshakeRequest{}, Callbacks{})
	if err := conn.Connect(context.Background()); err == nil {
		t.Fatalf("expected error for malformed json")
	}
	if conn.State() != Failed {
		t.Fatalf("State = %v, want Failed", conn.State())
	}
}

func TestNetworkConnectionUnreachableGoesToFailed(t *testing.T) {
	conn := NewNetworkConnection(uuid.New(), "peer", "127.0.0.1:1", 0, HandshakeRequest{}, Callbacks{})
	if err := conn.Connect(context.Background()); err == nil {
		t.Fatalf("expected error connecting to unreachable address")
	}
	if conn.State() != Failed {
		t.Fatalf("State = %v, want Failed", conn.State())
	}
}

func TestNetworkConnectionIsAlive(t *testing.T) {
	conn := NewNetworkConnection(uuid.New(), "peer", "127.0.0.1:0", 0, HandshakeRequest{}, Callbacks{})
	if !conn.IsAlive(time.Minute) {
		t.Fatalf("freshly created connection should be alive within a generous threshold")
	}
	if conn.IsAlive(0) {
		t.Fatalf("zero threshold should immediately be not alive")
	}
}

func TestNetworkConnectionDisconnectIsIdempotent(t *testing.T) {
	conn := NewNetworkConnection(uuid.New(), "peer", "127.0.0.1:0", 0, HandshakeRequest{}, Callbacks{})
	conn.Disconnect()
	conn.Disconnect()
	if conn.State() != Disconnected {
		t.Fatalf("State = %v, want Disconnected", conn.State())
	}
}
