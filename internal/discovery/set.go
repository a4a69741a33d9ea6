package discovery

import "github.com/muurk/lumen/internal/protocol"

// set accumulates devices keyed by identity, in first-arrival order.
type set struct {
	order []Device
	index map[protocol.DeviceID]int
}

func newSet() *set {
	return &set{index: make(map[protocol.DeviceID]int)}
}

// add records d. A repeat sighting refreshes the address and fills in a
// label the first sighting lacked; it reports whether d was new.
func (s *set) add(d Device) bool {
	if i, ok := s.index[d.ID]; ok {
		cur := &s.order[i]
		if d.Addr != nil {
			cur.Addr = d.Addr
			if d.Port != 0 {
				cur.Port = d.Port
			}
		}
		if cur.Label == "" {
			cur.Label = d.Label
		}
		return false
	}
	s.index[d.ID] = len(s.order)
	s.order = append(s.order, d)
	return true
}

func (s *set) devices() []Device {
	out := make([]Device, len(s.order))
	copy(out, s.order)
	return out
}
