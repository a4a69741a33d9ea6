package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Message type constants.
const (
	TypeGetService      uint16 = 2
	TypeStateService    uint16 = 3
	TypeGetPower        uint16 = 20
	TypeSetPower        uint16 = 21
	TypeStatePower      uint16 = 22
	TypeGetLabel        uint16 = 23
	TypeStateLabel      uint16 = 25
	TypeAcknowledgement uint16 = 45
	TypeLightGet        uint16 = 101
	TypeLightSetColor   uint16 = 102
	TypeLightState      uint16 = 107
)

// ServiceUDP is the only transport service devices advertise.
const ServiceUDP uint8 = 1

const labelSize = 32

// Message is a typed payload.
type Message interface {
	Type() uint16
	String() string
	payloadSize() int
	marshalPayload(b []byte)
}

// Color channel ranges.
const (
	KelvinMin = 2500
	KelvinMax = 9000
)

// HSBK is a color as hue, saturation, brightness and kelvin. Hue,
// saturation and brightness span the full uint16 range.
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// Clamp forces Kelvin into the supported range.
func (c HSBK) Clamp() HSBK {
	if c.Kelvin < KelvinMin {
		c.Kelvin = KelvinMin
	}
	if c.Kelvin > KelvinMax {
		c.Kelvin = KelvinMax
	}
	return c
}

func (c HSBK) String() string {
	return fmt.Sprintf("hsbk(%d,%d,%d,%dK)", c.Hue, c.Saturation, c.Brightness, c.Kelvin)
}

func (c HSBK) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], c.Hue)
	binary.LittleEndian.PutUint16(b[2:4], c.Saturation)
	binary.LittleEndian.PutUint16(b[4:6], c.Brightness)
	binary.LittleEndian.PutUint16(b[6:8], c.Kelvin)
}

func unmarshalHSBK(b []byte) HSBK {
	return HSBK{
		Hue:        binary.LittleEndian.Uint16(b[0:2]),
		Saturation: binary.LittleEndian.Uint16(b[2:4]),
		Brightness: binary.LittleEndian.Uint16(b[4:6]),
		Kelvin:     binary.LittleEndian.Uint16(b[6:8]),
	}
}

// PowerLevel is a device power level. Devices only honour 0 and 65535.
type PowerLevel uint16

const (
	PowerOff PowerLevel = 0
	PowerOn  PowerLevel = 0xFFFF
)

// PowerFor maps a boolean onto a power level.
func PowerFor(on bool) PowerLevel {
	if on {
		return PowerOn
	}
	return PowerOff
}

// On reports whether the level is non-zero.
func (p PowerLevel) On() bool { return p != PowerOff }

func (p PowerLevel) String() string {
	if p.On() {
		return "on"
	}
	return "off"
}

type empty struct{}

func (empty) payloadSize() int      { return 0 }
func (empty) marshalPayload([]byte) {}

// GetService asks every device which services it offers. Broadcast only.
type GetService struct{ empty }

func (GetService) Type() uint16   { return TypeGetService }
func (GetService) String() string { return "GetService" }

// StateService is the discovery reply.
type StateService struct {
	Service uint8
	Port    uint32
}

func (*StateService) Type() uint16     { return TypeStateService }
func (*StateService) payloadSize() int { return 5 }
func (m *StateService) String() string { return fmt.Sprintf("StateService{service=%d, port=%d}", m.Service, m.Port) }
func (m *StateService) marshalPayload(b []byte) {
	b[0] = m.Service
	binary.LittleEndian.PutUint32(b[1:5], m.Port)
}

// GetPower asks for the power level.
type GetPower struct{ empty }

func (GetPower) Type() uint16   { return TypeGetPower }
func (GetPower) String() string { return "GetPower" }

// SetPower changes the power level.
type SetPower struct {
	Level PowerLevel
}

func (*SetPower) Type() uint16     { return TypeSetPower }
func (*SetPower) payloadSize() int { return 2 }
func (m *SetPower) String() string { return fmt.Sprintf("SetPower{%s}", m.Level) }
func (m *SetPower) marshalPayload(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.Level))
}

// StatePower reports the power level.
type StatePower struct {
	Level PowerLevel
}

func (*StatePower) Type() uint16     { return TypeStatePower }
func (*StatePower) payloadSize() int { return 2 }
func (m *StatePower) String() string { return fmt.Sprintf("StatePower{%s}", m.Level) }
func (m *StatePower) marshalPayload(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.Level))
}

// GetLabel asks for the device's human-readable name.
type GetLabel struct{ empty }

func (GetLabel) Type() uint16   { return TypeGetLabel }
func (GetLabel) String() string { return "GetLabel" }

// StateLabel carries the device name, at most 32 bytes of UTF-8.
type StateLabel struct {
	Label string
}

func (*StateLabel) Type() uint16     { return TypeStateLabel }
func (*StateLabel) payloadSize() int { return labelSize }
func (m *StateLabel) String() string { return fmt.Sprintf("StateLabel{%q}", m.Label) }
func (m *StateLabel) marshalPayload(b []byte) {
	copy(b[:labelSize], m.Label)
}

// Acknowledgement confirms receipt of a request sent with ack_required.
type Acknowledgement struct{ empty }

func (Acknowledgement) Type() uint16   { return TypeAcknowledgement }
func (Acknowledgement) String() string { return "Acknowledgement" }

// LightGet asks a light for its full state.
type LightGet struct{ empty }

func (LightGet) Type() uint16   { return TypeLightGet }
func (LightGet) String() string { return "LightGet" }

// LightSetColor changes color over Duration milliseconds.
type LightSetColor struct {
	Color    HSBK
	Duration uint32
}

func (*LightSetColor) Type() uint16     { return TypeLightSetColor }
func (*LightSetColor) payloadSize() int { return 13 }
func (m *LightSetColor) String() string {
	return fmt.Sprintf("LightSetColor{%s, %dms}", m.Color, m.Duration)
}
func (m *LightSetColor) marshalPayload(b []byte) {
	m.Color.marshal(b[1:9])
	binary.LittleEndian.PutUint32(b[9:13], m.Duration)
}

// LightState reports a light's color, power and label.
type LightState struct {
	Color HSBK
	Power PowerLevel
	Label string
}

func (*LightState) Type() uint16     { return TypeLightState }
func (*LightState) payloadSize() int { return 52 }
func (m *LightState) String() string {
	return fmt.Sprintf("LightState{%s, power=%s, label=%q}", m.Color, m.Power, m.Label)
}
func (m *LightState) marshalPayload(b []byte) {
	m.Color.marshal(b[0:8])
	binary.LittleEndian.PutUint16(b[10:12], uint16(m.Power))
	copy(b[12:12+labelSize], m.Label)
}

// Unknown holds a message type this package does not decode.
type Unknown struct {
	Kind uint16
	Data []byte
}

func (m *Unknown) Type() uint16            { return m.Kind }
func (m *Unknown) payloadSize() int        { return len(m.Data) }
func (m *Unknown) marshalPayload(b []byte) { copy(b, m.Data) }
func (m *Unknown) String() string          { return fmt.Sprintf("Unknown{type=%d, len=%d}", m.Kind, len(m.Data)) }

func parseLabel(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

type decoder struct {
	size   int
	decode func(b []byte) Message
}

var decoders = map[uint16]decoder{
	TypeGetService: {0, func([]byte) Message { return GetService{} }},
	TypeStateService: {5, func(b []byte) Message {
		return &StateService{Service: b[0], Port: binary.LittleEndian.Uint32(b[1:5])}
	}},
	TypeGetPower: {0, func([]byte) Message { return GetPower{} }},
	TypeSetPower: {2, func(b []byte) Message {
		return &SetPower{Level: PowerLevel(binary.LittleEndian.Uint16(b[0:2]))}
	}},
	TypeStatePower: {2, func(b []byte) Message {
		return &StatePower{Level: PowerLevel(binary.LittleEndian.Uint16(b[0:2]))}
	}},
	TypeGetLabel: {0, func([]byte) Message { return GetLabel{} }},
	TypeStateLabel: {labelSize, func(b []byte) Message {
		return &StateLabel{Label: parseLabel(b[:labelSize])}
	}},
	TypeAcknowledgement: {0, func([]byte) Message { return Acknowledgement{} }},
	TypeLightGet:        {0, func([]byte) Message { return LightGet{} }},
	TypeLightSetColor: {13, func(b []byte) Message {
		return &LightSetColor{Color: unmarshalHSBK(b[1:9]), Duration: binary.LittleEndian.Uint32(b[9:13])}
	}},
	TypeLightState: {52, func(b []byte) Message {
		return &LightState{
			Color: unmarshalHSBK(b[0:8]),
			Power: PowerLevel(binary.LittleEndian.Uint16(b[10:12])),
			Label: parseLabel(b[12 : 12+labelSize]),
		}
	}},
}

// TypeName returns a readable name for a message type.
func TypeName(t uint16) string {
	switch t {
	case TypeGetService:
		return "GetService"
	case TypeStateService:
		return "StateService"
	case TypeGetPower:
		return "GetPower"
	case TypeSetPower:
		return "SetPower"
	case TypeStatePower:
		return "StatePower"
	case TypeGetLabel:
		return "GetLabel"
	case TypeStateLabel:
		return "StateLabel"
	case TypeAcknowledgement:
		return "Acknowledgement"
	case TypeLightGet:
		return "LightGet"
	case TypeLightSetColor:
		return "LightSetColor"
	case TypeLightState:
		return "LightState"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

// ExpectedReply returns the reply type a request expects. Setters are sent
// with ack_required and expect an Acknowledgement; getters expect the
// matching state message. ok is false for messages that are not requests.
func ExpectedReply(m Message) (reply uint16, ok bool) {
	switch m.Type() {
	case TypeGetService:
		return TypeStateService, true
	case TypeGetPower:
		return TypeStatePower, true
	case TypeGetLabel:
		return TypeStateLabel, true
	case TypeLightGet:
		return TypeLightState, true
	case TypeSetPower, TypeLightSetColor:
		return TypeAcknowledgement, true
	default:
		return 0, false
	}
}
