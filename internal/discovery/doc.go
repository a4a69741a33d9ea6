// Package discovery finds lights on the local network.
//
// The primary path broadcasts a single GetService query and, for the length
// of a discovery window, collects every StateService reply. Devices often
// answer more than once; replies are keyed by device id so each physical
// device is reported exactly once, in the order it first answered. A repeat
// sighting refreshes the stored address.
//
// # Discovery Process
//
//  1. Open a fan-in stream on the correlator (one token, many replies)
//  2. Broadcast GetService to 255.255.255.255:56700
//  3. Merge replies, and entries from any supplemental Source, by device id
//  4. Return the set when the window elapses
//
// An empty network is not an error: Discover returns an empty slice.
//
// # Usage Example
//
//	engine := discovery.NewEngine(corr,
//	    discovery.WithSource(discovery.NewMDNSSource("", nil)))
//	devices, err := engine.Discover(ctx, 2*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, d := range devices {
//	    fmt.Println(d)
//	}
//
// # mDNS
//
// MDNSSource browses a service type (default "_lifx._udp") with zeroconf.
// Entries must carry the device id in a TXT record ("id=d073d5001122").
// Multicast must be allowed on the interface (UDP port 5353).
package discovery
