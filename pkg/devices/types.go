// Package devices unifies local and remote MIDI devices into a single
// catalogue and routes outbound MIDI bytes to whichever port or peer owns
// the addressed device.
package devices

import (
	"github.com/google/uuid"
	"github.com/oletizi/midimesh/pkg/wire"
)

// Type distinguishes MIDI input from output devices.
type Type int

const (
	Input Type = iota
	Output
)

func (t Type) String() string {
	if t == Input {
		return "input"
	}
	return "output"
}

// Local is the distinguished owner value meaning "owned by this node"
// The all-zero UUID is reserved for this.
var Local = uuid.Nil

// Record describes one device, local or remote, in the unified catalogue.
type Record struct {
	ID      wire.DeviceID
	Name    string
	Type    Type
	Owner   uuid.UUID // devices.Local for locally-owned devices
	Handle  any       // opaque backend handle, nil for remote devices
}

// IsLocal reports whether the record is owned by this node.
func (r Record) IsLocal() bool { return r.Owner == Local }

// Route is the denormalised device_id -> owner projection used for O(1)
// dispatch by MidiRouter.
type Route struct {
	DeviceID wire.DeviceID
	Owner    uuid.UUID
	Name     string
	Type     Type
}

func (r Route) IsLocal() bool { return r.Owner == Local }
