package protocol

import (
	"fmt"
)

// Packet is a header plus its decoded message.
type Packet struct {
	Header
	Message Message
}

// NewPacket addresses msg to target. A zero target is sent tagged so every
// device processes it. Requests with an expected reply get the matching
// response flag.
func NewPacket(target DeviceID, msg Message) *Packet {
	p := &Packet{
		Header: Header{
			Addressable: true,
			Tagged:      target.IsZero(),
			Target:      target,
			Type:        msg.Type(),
		},
		Message: msg,
	}
	if reply, ok := ExpectedReply(msg); ok {
		if reply == TypeAcknowledgement {
			p.AckRequired = true
		} else {
			p.ResRequired = true
		}
	}
	return p
}

// Token returns the correlation token.
func (p *Packet) Token() Token { return Token(p.Sequence) }

// SetToken stores the correlation token.
func (p *Packet) SetToken(t Token) { p.Sequence = uint8(t) }

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{src=%08x, seq=%d, target=%s, %s}", p.Source, p.Sequence, p.Target, p.Message)
}

// Encode serializes p. The header size and type fields are derived from
// the message.
func Encode(p *Packet) ([]byte, error) {
	if p == nil || p.Message == nil {
		return nil, fmt.Errorf("encode: packet has no message")
	}
	size := HeaderSize + p.Message.payloadSize()
	if size > MaxPacketSize {
		return nil, fmt.Errorf("encode: packet too large: %d bytes (max %d)", size, MaxPacketSize)
	}
	p.Size = uint16(size)
	p.Type = p.Message.Type()

	b := make([]byte, size)
	p.Header.marshal(b[:HeaderSize])
	p.Message.marshalPayload(b[HeaderSize:])
	return b, nil
}

// Decode parses one datagram. Unknown message types decode to *Unknown.
// Trailing bytes beyond a known payload are ignored, since newer firmware
// appends fields.
func Decode(b []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.Header.unmarshal(b); err != nil {
		return nil, err
	}
	if int(p.Size) != len(b) {
		return nil, fmt.Errorf("%w: header says %d, got %d", ErrSizeMismatch, p.Size, len(b))
	}

	payload := b[HeaderSize:]
	dec, ok := decoders[p.Type]
	if !ok {
		data := make([]byte, len(payload))
		copy(data, payload)
		p.Message = &Unknown{Kind: p.Type, Data: data}
		return p, nil
	}
	if len(payload) < dec.size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, TypeName(p.Type), dec.size, len(payload))
	}
	p.Message = dec.decode(payload)
	return p, nil
}
