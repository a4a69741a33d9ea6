// Package registry holds the devices found in a session, in discovery order,
// enriched with their labels.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
)

// Registry is an ordered set of devices with unique ids.
type Registry struct {
	mu      sync.RWMutex
	devices []discovery.Device
	index   map[protocol.DeviceID]int
	log     *zap.Logger
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		index: make(map[protocol.DeviceID]int),
		log:   logging.Named(log, "registry"),
	}
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Lookup returns the device at index i.
func (r *Registry) Lookup(i int) (discovery.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.devices) {
		return discovery.Device{}, lanerr.OutOfRange(i, len(r.devices))
	}
	return r.devices[i].Clone(), nil
}

// LookupID returns the device with the given id.
func (r *Registry) LookupID(id protocol.DeviceID) (discovery.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return discovery.Device{}, false
	}
	return r.devices[i].Clone(), true
}

// IndexOf returns the position of id, or -1.
func (r *Registry) IndexOf(id protocol.DeviceID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// Devices returns a copy of every device in order.
func (r *Registry) Devices() []discovery.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]discovery.Device, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.Clone()
	}
	return out
}

// Upsert adds d, or updates the device with the same id in place. It
// reports whether d was new.
func (r *Registry) Upsert(d discovery.Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d = d.Clone()
	if i, ok := r.index[d.ID]; ok {
		cur := &r.devices[i]
		if d.Addr != nil && cur.HostPort() != d.HostPort() {
			r.log.Info("device address changed",
				zap.Stringer("device", d.ID),
				zap.String("from", cur.HostPort()),
				zap.String("to", d.HostPort()),
			)
			cur.Addr = d.Addr
		}
		if d.Label != "" {
			cur.Label = d.Label
		}
		cur.LabelErr = d.LabelErr
		return false
	}
	r.index[d.ID] = len(r.devices)
	r.devices = append(r.devices, d)
	return true
}

// SameDevices reports whether a and b list the same devices with the same
// labels in the same order.
func SameDevices(a, b []discovery.Device) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) || a[i].Label != b[i].Label {
			return false
		}
	}
	return true
}
