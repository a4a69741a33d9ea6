// Package simnet is an in-memory datagram network with scripted bulbs, for
// tests that need the full request/reply path without real sockets.
package simnet

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/transport"
)

// BroadcastIP is the limited broadcast address endpoints listen on.
var BroadcastIP = net.IPv4bcast

// Network routes datagrams between endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	closed    bool
	wg        sync.WaitGroup
}

// New creates an empty network.
func New() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Listen attaches an endpoint at addr ("10.0.0.5:56700").
func (n *Network) Listen(addr string) *Endpoint {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		panic(err)
	}
	ep := &Endpoint{
		net:    n,
		addr:   ua,
		inbox:  make(chan transport.Datagram, 256),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	n.endpoints[ua.String()] = ep
	n.mu.Unlock()
	return ep
}

// Close shuts every endpoint and waits for scheduled deliveries to finish.
func (n *Network) Close() {
	n.mu.Lock()
	n.closed = true
	eps := make([]*Endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		eps = append(eps, ep)
	}
	n.mu.Unlock()
	for _, ep := range eps {
		_ = ep.Close()
	}
	n.wg.Wait()
}

func isBroadcast(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && (ip4.Equal(BroadcastIP) || ip4[3] == 255)
}

// deliver routes data from src to dst after delay. Undeliverable datagrams
// vanish, as they would on a real network.
func (n *Network) deliver(src, dst *net.UDPAddr, data []byte, delay time.Duration) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	var targets []*Endpoint
	if isBroadcast(dst.IP) {
		for _, ep := range n.endpoints {
			if ep.addr.Port == dst.Port && ep.addr.String() != src.String() {
				targets = append(targets, ep)
			}
		}
	} else if ep, ok := n.endpoints[dst.String()]; ok {
		targets = append(targets, ep)
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, ep := range targets {
			buf := make([]byte, len(data))
			copy(buf, data)
			ep.push(transport.Datagram{Data: buf, From: src, At: time.Now()})
		}
	}()
}

// Endpoint is one attached socket. It implements transport.Transport.
type Endpoint struct {
	net    *Network
	addr   *net.UDPAddr
	inbox  chan transport.Datagram
	once   sync.Once
	closed chan struct{}

	mu   sync.Mutex
	sent []Sent
}

// Sent records one outgoing datagram.
type Sent struct {
	To   *net.UDPAddr
	Data []byte
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) push(dg transport.Datagram) {
	select {
	case <-e.closed:
	case e.inbox <- dg:
	default:
		// full inbox drops, like a socket buffer
	}
}

// Send delivers data to addr with no delay.
func (e *Endpoint) Send(ctx context.Context, data []byte, addr *net.UDPAddr) error {
	return e.SendAfter(ctx, data, addr, 0)
}

// SendAfter delivers data to addr after delay.
func (e *Endpoint) SendAfter(ctx context.Context, data []byte, addr *net.UDPAddr, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-e.closed:
		return lanerr.New(lanerr.KindStopped, "send", net.ErrClosed)
	default:
	}
	e.mu.Lock()
	e.sent = append(e.sent, Sent{To: addr, Data: append([]byte(nil), data...)})
	e.mu.Unlock()
	e.net.deliver(e.addr, addr, data, delay)
	return nil
}

// Receive blocks for the next datagram.
func (e *Endpoint) Receive(ctx context.Context) (transport.Datagram, error) {
	select {
	case <-ctx.Done():
		return transport.Datagram{}, ctx.Err()
	case <-e.closed:
		return transport.Datagram{}, lanerr.New(lanerr.KindStopped, "receive", net.ErrClosed)
	case dg := <-e.inbox:
		return dg, nil
	}
}

// Inject queues a datagram as if it arrived from from.
func (e *Endpoint) Inject(data []byte, from string) {
	ua, err := net.ResolveUDPAddr("udp4", from)
	if err != nil {
		panic(err)
	}
	e.push(transport.Datagram{Data: append([]byte(nil), data...), From: ua, At: time.Now()})
}

// Sent returns a copy of everything this endpoint has sent.
func (e *Endpoint) Sent() []Sent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Sent(nil), e.sent...)
}

// Addr returns the endpoint's address.
func (e *Endpoint) Addr() *net.UDPAddr { return e.addr }

// LocalAddr implements transport.Transport.
func (e *Endpoint) LocalAddr() net.Addr { return e.addr }

// Close detaches the endpoint.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)
		e.net.mu.Lock()
		if cur, ok := e.net.endpoints[e.addr.String()]; ok && cur == e {
			delete(e.net.endpoints, e.addr.String())
		}
		e.net.mu.Unlock()
	})
	return nil
}

// MustAddr parses "host:port".
func MustAddr(s string) *net.UDPAddr {
	if !strings.Contains(s, ":") {
		s += ":56700"
	}
	ua, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		panic(err)
	}
	return ua
}
