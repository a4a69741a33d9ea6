package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/muurk/lumen/internal/protocol"
)

func TestDevice_Equal(t *testing.T) {
	a := Device{ID: bulbID(1), Label: "Desk", Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 56700}}
	b := Device{ID: bulbID(1), Label: "Renamed", Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 99), Port: 56700}}
	c := Device{ID: bulbID(2), Label: "Desk", Addr: a.Addr}

	if !a.Equal(b) {
		t.Error("same id with different address and label should be equal")
	}
	if a.Equal(c) {
		t.Error("different ids with the same label should not be equal")
	}
}

func TestDevice_DisplayName(t *testing.T) {
	d := Device{ID: protocol.DeviceID{0xd0, 0x73, 0xd5, 0x01, 0x02, 0x03}}
	if got := d.DisplayName(); got != "d073d5010203" {
		t.Errorf("DisplayName() = %q, want id fallback", got)
	}
	d.Label = "Hallway"
	if got := d.DisplayName(); got != "Hallway" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestDevice_String(t *testing.T) {
	d := Device{
		ID:    protocol.DeviceID{0xd0, 0x73, 0xd5, 0x01, 0x02, 0x03},
		Label: "Hallway",
		Addr:  &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 56700},
	}
	want := "Hallway (d073d5010203) at 192.168.1.20:56700"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDevice_Clone(t *testing.T) {
	d := Device{ID: bulbID(1), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 56700}, DiscoveredAt: time.Now()}
	c := d.Clone()
	c.Addr.Port = 1
	c.Addr.IP[len(c.Addr.IP)-1] = 9
	if d.Addr.Port != 56700 || d.Addr.IP.String() != "10.0.0.2" {
		t.Errorf("Clone shares address with original: %s", d.Addr)
	}
}

func TestSet_RefreshesAddress(t *testing.T) {
	s := newSet()
	first := Device{ID: bulbID(1), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 56700}}
	moved := Device{ID: bulbID(1), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 56700}, Label: "Desk"}
	other := Device{ID: bulbID(2)}

	if !s.add(first) {
		t.Error("first sighting should be new")
	}
	if !s.add(other) {
		t.Error("other device should be new")
	}
	if s.add(moved) {
		t.Error("repeat sighting should not be new")
	}

	got := s.devices()
	if len(got) != 2 {
		t.Fatalf("devices() = %d, want 2", len(got))
	}
	if got[0].ID != bulbID(1) || got[1].ID != bulbID(2) {
		t.Errorf("first-arrival order lost: %v", got)
	}
	if got[0].HostPort() != "10.0.0.3:56700" {
		t.Errorf("address not refreshed: %s", got[0].HostPort())
	}
	if got[0].Label != "Desk" {
		t.Errorf("label not filled: %q", got[0].Label)
	}
}
