package discovery

import (
	"fmt"
	"net"
	"time"

	"github.com/muurk/lumen/internal/protocol"
)

// Origin records which discovery path first introduced a device.
type Origin string

const (
	OriginLAN  Origin = "lan"
	OriginMDNS Origin = "mdns"
)

// Device represents a light found on the network
type Device struct {
	// ID is the stable device identity (the 6-byte target address)
	ID protocol.DeviceID

	// Addr is where the device last answered from. It may change between
	// sessions.
	Addr *net.UDPAddr

	// Label is the human-readable name, empty until fetched
	Label string

	// Service and Port are from the StateService reply
	Service uint8
	Port    uint32

	Origin Origin

	// DiscoveredAt is when the device was first seen
	DiscoveredAt time.Time

	// LabelErr is set when the label fetch failed but the device was kept
	LabelErr error
}

// Equal reports whether d and o are the same physical device. Address and
// label are transient and not compared.
func (d Device) Equal(o Device) bool {
	return d.ID == o.ID
}

// DisplayName returns the label, or the device id when no label is known.
func (d Device) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.ID.String()
}

// HostPort returns the device address as "ip:port", or "" if unknown.
func (d Device) HostPort() string {
	if d.Addr == nil {
		return ""
	}
	return d.Addr.String()
}

// String returns a human-readable string representation of the device
func (d Device) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.DisplayName(), d.ID, d.HostPort())
}

// Clone returns a copy that shares no mutable state with d.
func (d Device) Clone() Device {
	if d.Addr != nil {
		a := *d.Addr
		a.IP = append(net.IP(nil), d.Addr.IP...)
		d.Addr = &a
	}
	return d
}
