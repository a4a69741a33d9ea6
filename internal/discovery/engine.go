package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/correlator"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
)

// DefaultWindow is how long Discover collects replies when no window is given.
const DefaultWindow = 2 * time.Second

// Broadcaster opens a fan-in exchange. *correlator.Correlator satisfies it.
type Broadcaster interface {
	Stream(ctx context.Context, addr *net.UDPAddr, target protocol.DeviceID, msg protocol.Message) (*correlator.Stream, error)
}

// Source is an additional discovery path whose results merge into the same
// identity-keyed set. Browse sends devices on found until ctx is done.
type Source interface {
	Browse(ctx context.Context, found chan<- Device) error
}

// Engine discovers devices by broadcasting a service query and collecting
// every reply within a window.
type Engine struct {
	b         Broadcaster
	broadcast *net.UDPAddr
	sources   []Source
	log       *zap.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBroadcastAddr sets where the service query is sent.
func WithBroadcastAddr(addr *net.UDPAddr) Option {
	return func(e *Engine) { e.broadcast = addr }
}

// WithSource adds a supplemental discovery source.
func WithSource(s Source) Option {
	return func(e *Engine) { e.sources = append(e.sources, s) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a discovery engine over b.
func NewEngine(b Broadcaster, opts ...Option) *Engine {
	e := &Engine{
		b:         b,
		broadcast: &net.UDPAddr{IP: net.IPv4bcast, Port: protocol.DefaultPort},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.Named(e.log, "discovery")
	return e
}

// Discover broadcasts one service query and returns every distinct device
// that answered within window, in first-arrival order. Devices that answer
// more than once are reported once. No replies is not an error.
//
// The only failures are a send failure and cancellation of ctx; in the
// latter case the devices collected so far are returned with ctx's error.
func (e *Engine) Discover(ctx context.Context, window time.Duration) ([]Device, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	stream, err := e.b.Stream(wctx, e.broadcast, protocol.BroadcastID, protocol.GetService{})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	found := make(chan Device, 16)
	var wg sync.WaitGroup
	for _, src := range e.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			if err := src.Browse(wctx, found); err != nil {
				e.log.Warn("discovery source failed", zap.Error(err))
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(found)
	}()

	seen := newSet()
	replies := stream.C()
	for {
		select {
		case r, ok := <-replies:
			if !ok {
				// stream released underneath us (correlator closed)
				replies = nil
				continue
			}
			if d, ok := e.fromReply(r); ok && seen.add(d) {
				e.log.Debug("device found", zap.Stringer("device", d.ID), zap.Stringer("addr", d.Addr))
			}
		case d, ok := <-found:
			if !ok {
				found = nil
				continue
			}
			if seen.add(d) {
				e.log.Debug("device found", zap.Stringer("device", d.ID), zap.String("origin", string(d.Origin)))
			}
		case <-wctx.Done():
			deadline, _ := wctx.Deadline()
			e.drain(replies, found, deadline, seen)
			devices := seen.devices()
			e.log.Info("discovery finished", zap.Int("devices", len(devices)), zap.Duration("window", window))
			return devices, ctx.Err()
		}
	}
}

// drain takes what is still buffered when the window closes. Replies
// received after deadline are ignored.
func (e *Engine) drain(replies <-chan correlator.Reply, found <-chan Device, deadline time.Time, seen *set) {
	for replies != nil {
		select {
		case r, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}
			if !r.At.IsZero() && r.At.After(deadline) {
				continue
			}
			if d, ok := e.fromReply(r); ok {
				seen.add(d)
			}
		default:
			replies = nil
		}
	}
	for found != nil {
		select {
		case d, ok := <-found:
			if !ok {
				found = nil
				continue
			}
			seen.add(d)
		default:
			found = nil
		}
	}
}

func (e *Engine) fromReply(r correlator.Reply) (Device, bool) {
	ss, ok := r.Packet.Message.(*protocol.StateService)
	if !ok || ss.Service != protocol.ServiceUDP || r.Packet.Target.IsZero() {
		return Device{}, false
	}
	addr := &net.UDPAddr{IP: r.From.IP, Port: r.From.Port}
	if ss.Port != 0 {
		addr.Port = int(ss.Port)
	}
	at := r.At
	if at.IsZero() {
		at = e.now()
	}
	return Device{
		ID:           r.Packet.Target,
		Addr:         addr,
		Service:      ss.Service,
		Port:         ss.Port,
		Origin:       OriginLAN,
		DiscoveredAt: at,
	}, true
}
