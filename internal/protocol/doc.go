// Package protocol implements the smart-lighting LAN datagram protocol.
//
// Every datagram is a fixed 36-byte little-endian header followed by a
// message payload whose layout depends on the message type.
//
// # Header Layout
//
//	[0-1]   size         Total datagram size including header
//	[2-3]   protocol     Bits 0-11: 1024; bit 12 addressable; bit 13 tagged
//	[4-7]   source       Client identifier, echoed by devices
//	[8-15]  target       6-byte device id + 2 zero bytes; all zero = every device
//	[16-21] reserved
//	[22]    flags        Bit 0 res_required; bit 1 ack_required
//	[23]    sequence     Wrapping 8-bit counter, echoed by devices
//	[24-31] reserved
//	[32-33] type         Message type
//	[34-35] reserved
//
// The sequence number is the correlation token: a device copies source and
// sequence from a request into its reply, so a client can match replies that
// arrive out of order.
//
// # Usage Example
//
//	pkt := protocol.NewPacket(id, protocol.GetLabel{})
//	pkt.Source = 0x5a5a0001
//	pkt.SetToken(7)
//	data, err := protocol.Encode(pkt)
//	...
//	reply, err := protocol.Decode(buf[:n])
//	if label, ok := reply.Message.(*protocol.StateLabel); ok {
//	    fmt.Println(label.Label)
//	}
//
// Message types this package does not know decode to *Unknown rather than
// failing, since devices broadcast state messages clients never asked for.
//
// # Thread Safety
//
// Encoding and decoding are stateless and safe for concurrent use.
package protocol
