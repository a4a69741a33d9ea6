package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
)

const (
	// DefaultServiceType is the mDNS service type lights advertise under
	DefaultServiceType = "_lifx._udp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	maxLabel = 63
)

// browseFunc starts an mDNS browse that feeds entries until ctx is done.
// It owns entries: on every path, error or not, entries is eventually
// closed exactly once.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	// From here the resolver's loop closes entries, also after a failed query.
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

// ValidateServiceType checks that service has the "_name._udp" or
// "_name._tcp" shape and that the name fits in one DNS label.
func ValidateServiceType(service string) error {
	name, proto, ok := strings.Cut(service, ".")
	if !ok || (proto != "_udp" && proto != "_tcp") {
		return fmt.Errorf("mDNS service type %q must look like _name._udp or _name._tcp", service)
	}
	if len(name) < 2 || name[0] != '_' {
		return fmt.Errorf("mDNS service type %q: name must start with an underscore", service)
	}
	if len(name) > maxLabel {
		return fmt.Errorf("mDNS service type %q: name longer than %d bytes", service, maxLabel)
	}
	return nil
}

// MDNSSource discovers lights that advertise over mDNS. The TXT record
// must carry the device id as "id=<hex>"; "label=<name>" is optional.
type MDNSSource struct {
	// Service is the mDNS service type to browse for
	Service string

	log    *zap.Logger
	browse browseFunc
}

// NewMDNSSource creates an mDNS source for the given service type.
func NewMDNSSource(service string, log *zap.Logger) *MDNSSource {
	if service == "" {
		service = DefaultServiceType
	}
	return &MDNSSource{
		Service: service,
		log:     logging.Named(log, "mdns"),
		browse:  zeroconfBrowse,
	}
}

// Browse implements Source.
func (m *MDNSSource) Browse(ctx context.Context, found chan<- Device) error {
	if err := ValidateServiceType(m.Service); err != nil {
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			d, ok := parseServiceEntry(entry)
			if !ok {
				m.log.Debug("ignoring mDNS entry", zap.String("instance", entry.Instance))
				continue
			}
			select {
			case found <- d:
			case <-ctx.Done():
				// keep draining so the resolver can finish
			}
		}
	}()

	if err := m.browse(ctx, m.Service, ServiceDomain, entries); err != nil {
		<-done
		return err
	}

	// the resolver closes entries once ctx is done
	<-ctx.Done()
	<-done
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// It reports false if the entry does not describe a light.
func parseServiceEntry(entry *zeroconf.ServiceEntry) (Device, bool) {
	txt := make(map[string]string, len(entry.Text))
	for _, t := range entry.Text {
		parts := strings.SplitN(t, "=", 2)
		if len(parts) == 2 {
			txt[strings.ToLower(parts[0])] = parts[1]
		} else {
			txt[strings.ToLower(parts[0])] = ""
		}
	}
	id, err := protocol.ParseDeviceID(txt["id"])
	if err != nil || id.IsZero() {
		return Device{}, false
	}

	// Get IP address (IPv4 only: the LAN protocol is IPv4 broadcast based)
	if len(entry.AddrIPv4) == 0 {
		return Device{}, false
	}
	port := entry.Port
	if port == 0 {
		port = protocol.DefaultPort
	}

	return Device{
		ID:           id,
		Addr:         &net.UDPAddr{IP: entry.AddrIPv4[0], Port: port},
		Label:        txt["label"],
		Service:      protocol.ServiceUDP,
		Port:         uint32(port),
		Origin:       OriginMDNS,
		DiscoveredAt: time.Now(),
	}, true
}
