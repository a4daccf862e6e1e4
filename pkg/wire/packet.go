// Package wire implements the binary MIDI-over-UDP datagram format.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	magicByte0 = 0x4D
	magicByte1 = 0x49
	version1   = 0x01

	// HeaderSize is the fixed-width portion of every packet, before payload.
	HeaderSize = 46

	// MaxPayload is the largest payload a single packet may carry.
	MaxPayload = 1024
)

// Flag bits packed into the packet's single flags byte.
const (
	FlagReliable  byte = 1 << 0
	FlagAck       byte = 1 << 1
	FlagHeartbeat byte = 1 << 2
)

// DeviceID addresses a device within its owning node. 0 means "none",
// 0xFFFF means "unknown/lookup failed".
type DeviceID uint16

const (
	DeviceNone    DeviceID = 0
	DeviceUnknown DeviceID = 0xFFFF
)

// Packet is a single MIDI datagram per the wire format.
type Packet struct {
	Flags       byte
	SourceNode  uuid.UUID
	DestNode    uuid.UUID
	Sequence    uint16
	TimestampUs uint32
	DeviceID    DeviceID
	Payload     []byte
}

func (p Packet) Reliable() bool  { return p.Flags&FlagReliable != 0 }
func (p Packet) Ack() bool       { return p.Flags&FlagAck != 0 }
func (p Packet) Heartbeat() bool { return p.Flags&FlagHeartbeat != 0 }

// DecodeError classifies why a byte slice failed to parse as a Packet.
type DecodeError struct {
	Kind string
}

func (e *DecodeError) Error() string { return "wire: decode failed: " + e.Kind }

var (
	ErrBadMagic           = &DecodeError{Kind: "bad magic"}
	ErrUnsupportedVersion = &DecodeError{Kind: "unsupported version"}
	ErrTruncated          = &DecodeError{Kind: "truncated"}
	ErrPayloadTooLarge    = &DecodeError{Kind: "payload too large"}
)

// Encode writes the packet to out in wire format, returning the number of
// bytes written (HeaderSize + len(Payload)).
func Encode(p Packet, out []byte) (int, error) {
	if len(p.Payload) > MaxPayload {
		return 0, fmt.Errorf("wire: encode: %w", ErrPayloadTooLarge)
	}
	total := HeaderSize + len(p.Payload)
	if len(out) < total {
		return 0, fmt.Errorf("wire: encode: buffer too small, need %d have %d", total, len(out))
	}

	out[0] = magicByte0
	out[1] = magicByte1
	out[2] = version1
	out[3] = p.Flags
	copy(out[4:20], p.SourceNode[:])
	copy(out[20:36], p.DestNode[:])
	binary.LittleEndian.PutUint16(out[36:38], p.Sequence)
	binary.LittleEndian.PutUint32(out[38:42], p.TimestampUs)
	binary.LittleEndian.PutUint16(out[42:44], uint16(p.DeviceID))
	binary.LittleEndian.PutUint16(out[44:46], uint16(len(p.Payload)))
	copy(out[46:total], p.Payload)

	return total, nil
}

// AppendEncode is a convenience wrapper around Encode that allocates.
func AppendEncode(p Packet) ([]byte, error) {
	buf := make([]byte, HeaderSize+len(p.Payload))
	n, err := Encode(p, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Decode parses a wire-format byte slice into a Packet.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("wire: decode: %w", ErrTruncated)
	}
	if data[0] != magicByte0 || data[1] != magicByte1 {
		return Packet{}, fmt.Errorf("wire: decode: %w", ErrBadMagic)
	}
	if data[2] != version1 {
		return Packet{}, fmt.Errorf("wire: decode: %w", ErrUnsupportedVersion)
	}

	payloadLen := binary.LittleEndian.Uint16(data[44:46])
	if payloadLen > MaxPayload {
		return Packet{}, fmt.Errorf("wire: decode: %w", ErrPayloadTooLarge)
	}
	want := HeaderSize + int(payloadLen)
	if len(data) != want {
		return Packet{}, fmt.Errorf("wire: decode: %w", ErrTruncated)
	}

	var p Packet
	p.Flags = data[3]
	copy(p.SourceNode[:], data[4:20])
	copy(p.DestNode[:], data[20:36])
	p.Sequence = binary.LittleEndian.Uint16(data[36:38])
	p.TimestampUs = binary.LittleEndian.Uint32(data[38:42])
	p.DeviceID = DeviceID(binary.LittleEndian.Uint16(data[42:44]))
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, data[46:want])
	}
	return p, nil
}

// NewHeartbeat builds a zero-payload heartbeat packet.
func NewHeartbeat(source uuid.UUID, timestampUs uint32) Packet {
	return Packet{
		Flags:       FlagHeartbeat,
		SourceNode:  source,
		DestNode:    uuid.Nil,
		TimestampUs: timestampUs,
		DeviceID:    DeviceNone,
	}
}

// NewAck builds an ack packet acknowledging sequence seq, whose 2-byte
// little-endian encoding is carried as the payload.
func NewAck(source, dest uuid.UUID, seq uint16, timestampUs uint32) Packet {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, seq)
	return Packet{
		Flags:       FlagAck,
		SourceNode:  source,
		DestNode:    dest,
		TimestampUs: timestampUs,
		DeviceID:    DeviceNone,
		Payload:     payload,
	}
}

// AckedSequence extracts the acknowledged sequence number from an ack
// packet's payload.
func AckedSequence(p Packet) (uint16, error) {
	if !p.Ack() {
		return 0, errors.New("wire: packet is not an ack")
	}
	if len(p.Payload) < 2 {
		return 0, fmt.Errorf("wire: ack payload too short: %w", ErrTruncated)
	}
	return binary.LittleEndian.Uint16(p.Payload), nil
}

// IsSysEx reports whether b looks like a SysEx message (starts 0xF0).
func IsSysEx(b []byte) bool {
	return len(b) > 0 && b[0] == 0xF0
}
