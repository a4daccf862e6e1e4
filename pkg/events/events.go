// Package events is an optional diagnostic bus for mesh lifecycle
// transitions: absent MIDIMESH_NATS_URL, it runs disabled and every
// publish is a silent no-op; the mesh behaves identically either way.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

const subject = "midimesh.events"

// Kind names a mesh lifecycle event.
type Kind string

const (
	PeerAppeared     Kind = "peer.appeared"
	PeerGone         Kind = "peer.gone"
	ConnectionFailed Kind = "connection.failed"
	DeviceRegistered Kind = "device.registered"
)

// Event is the JSON envelope published to subject.
type Event struct {
	Kind      Kind      `json:"kind"`
	NodeID    string    `json:"node_id"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes mesh lifecycle events to NATS when configured.
type Bus struct {
	nc      *nats.Conn
	enabled bool
}

// NewBus reads MIDIMESH_NATS_URL; if unset, logs a warning and returns a
// disabled Bus. If set, connects and reconnects indefinitely.
func NewBus() (*Bus, error) {
	url := os.Getenv("MIDIMESH_NATS_URL")
	if url == "" {
		log.Printf("events: MIDIMESH_NATS_URL not set, event bus disabled")
		return &Bus{enabled: false}, nil
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("events: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("events: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("events: connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}

	log.Printf("events: connected to nats at %s", url)
	return &Bus{nc: nc, enabled: true}, nil
}

// Publish emits one lifecycle event. No-op when the bus is disabled.
func (b *Bus) Publish(kind Kind, nodeID, detail string) {
	if b == nil || !b.enabled {
		return
	}

	ev := Event{Kind: kind, NodeID: nodeID, Detail: detail, Timestamp: time.Now()}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("events: marshal %s: %v", kind, err)
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		log.Printf("events: publish %s: %v", kind, err)
	}
}

// Close drains and closes the NATS connection, if any.
func (b *Bus) Close() {
	if b == nil || !b.enabled || b.nc == nil {
		return
	}
	b.nc.Close()
}
