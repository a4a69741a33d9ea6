package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Wire constants.
const (
	HeaderSize     = 36
	ProtocolNumber = 1024
	DefaultPort    = 56700

	// MaxPacketSize bounds receive buffers. The largest known message is
	// LightState at 88 bytes.
	MaxPacketSize = 512

	flagResRequired = 0x01
	flagAckRequired = 0x02

	bitAddressable = 1 << 12
	bitTagged      = 1 << 13
	protocolMask   = 0x0FFF
)

// Decoding errors.
var (
	ErrShortPacket     = errors.New("packet shorter than header")
	ErrSizeMismatch    = errors.New("header size does not match datagram length")
	ErrUnknownProtocol = errors.New("unknown protocol number")
	ErrShortPayload    = errors.New("payload shorter than message type requires")
)

// DeviceID is the stable identity of a device: its 6-byte hardware address.
type DeviceID [6]byte

// BroadcastID addresses every device.
var BroadcastID DeviceID

// ParseDeviceID accepts "d073d5001337" or "d0:73:d5:00:13:37".
func ParseDeviceID(s string) (DeviceID, error) {
	var id DeviceID
	clean := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), ":", "")
	if len(clean) != 12 {
		return id, fmt.Errorf("device id %q: want 12 hex digits", s)
	}
	if _, err := hex.Decode(id[:], []byte(clean)); err != nil {
		return id, fmt.Errorf("device id %q: %w", s, err)
	}
	return id, nil
}

// String renders the id as 12 lowercase hex digits.
func (id DeviceID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the broadcast id.
func (id DeviceID) IsZero() bool {
	return id == BroadcastID
}

// Token is the correlation token carried in the header sequence field.
type Token uint8

// Header is the decoded fixed header.
type Header struct {
	Size        uint16
	Tagged      bool
	Addressable bool
	Source      uint32
	Target      DeviceID
	ResRequired bool
	AckRequired bool
	Sequence    uint8
	Type        uint16
}

func (h *Header) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], h.Size)
	proto := uint16(ProtocolNumber)
	if h.Addressable {
		proto |= bitAddressable
	}
	if h.Tagged {
		proto |= bitTagged
	}
	binary.LittleEndian.PutUint16(b[2:4], proto)
	binary.LittleEndian.PutUint32(b[4:8], h.Source)
	copy(b[8:14], h.Target[:])
	var flags byte
	if h.ResRequired {
		flags |= flagResRequired
	}
	if h.AckRequired {
		flags |= flagAckRequired
	}
	b[22] = flags
	b[23] = h.Sequence
	binary.LittleEndian.PutUint16(b[32:34], h.Type)
}

func (h *Header) unmarshal(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortPacket
	}
	h.Size = binary.LittleEndian.Uint16(b[0:2])
	proto := binary.LittleEndian.Uint16(b[2:4])
	if proto&protocolMask != ProtocolNumber {
		return fmt.Errorf("%w: %d", ErrUnknownProtocol, proto&protocolMask)
	}
	h.Addressable = proto&bitAddressable != 0
	h.Tagged = proto&bitTagged != 0
	h.Source = binary.LittleEndian.Uint32(b[4:8])
	copy(h.Target[:], b[8:14])
	h.ResRequired = b[22]&flagResRequired != 0
	h.AckRequired = b[22]&flagAckRequired != 0
	h.Sequence = b[23]
	h.Type = binary.LittleEndian.Uint16(b[32:34])
	return nil
}
