package correlator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
	"github.com/muurk/lumen/internal/transport"
)

const (
	tokenSpace = 256

	// DefaultStreamLinger quarantines a stream's token after Close.
	DefaultStreamLinger = time.Second

	streamBuffer = 64
)

// Reply is one matched inbound packet.
type Reply struct {
	Packet *protocol.Packet
	From   *net.UDPAddr
	At     time.Time
}

// Stats counts dispatch outcomes.
type Stats struct {
	Sent       uint64
	Matched    uint64
	Stray      uint64
	Foreign    uint64
	Malformed  uint64
	Mismatched uint64
	Timeouts   uint64
}

type result struct {
	reply Reply
	err   error
}

type pending struct {
	token    protocol.Token
	target   protocol.DeviceID
	want     uint16
	addr     *net.UDPAddr
	created  time.Time
	deadline time.Time

	// result is the single-slot holder for requests, stream the fan-in
	// channel for streams. Exactly one is set.
	result chan result
	stream chan Reply
}

// Correlator owns the pending-request table for one transport.
type Correlator struct {
	tr     transport.Transport
	log    *zap.Logger
	source uint32
	linger time.Duration

	mu         sync.Mutex
	next       uint8
	table      map[protocol.Token]*pending
	quarantine map[protocol.Token]time.Time
	closed     bool

	sent, matched, stray, foreign, malformed, mismatched, timeouts atomic.Uint64
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Correlator) { c.log = l }
}

// WithSource fixes the source id instead of picking a random one.
func WithSource(src uint32) Option {
	return func(c *Correlator) { c.source = src }
}

// WithLinger sets how long an expired token stays quarantined. A negative
// value (the default) quarantines for the expired request's own timeout.
func WithLinger(d time.Duration) Option {
	return func(c *Correlator) { c.linger = d }
}

// New creates a correlator over tr. Call Run to start dispatching.
func New(tr transport.Transport, opts ...Option) *Correlator {
	c := &Correlator{
		tr:         tr,
		linger:     -1,
		table:      make(map[protocol.Token]*pending),
		quarantine: make(map[protocol.Token]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Named(c.log, "correlator")
	for c.source == 0 {
		// source 0 asks devices to broadcast their replies
		c.source = rand.Uint32()
	}
	c.next = uint8(rand.Intn(tokenSpace))
	return c
}

// Source returns the client source id stamped on every request.
func (c *Correlator) Source() uint32 { return c.source }

// Run reads and dispatches inbound datagrams until ctx is done or the
// transport fails. A transport failure fails every pending request with it.
func (c *Correlator) Run(ctx context.Context) error {
	c.log.Debug("dispatch loop started", zap.Uint32("source", c.source))
	for {
		dg, err := c.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Debug("dispatch loop stopped")
				return nil
			}
			c.failAll(err)
			if lanerr.IsStopped(err) {
				return nil
			}
			c.log.Error("dispatch loop failed", zap.Error(err))
			return err
		}
		c.dispatch(dg)
	}
}

func (c *Correlator) dispatch(dg transport.Datagram) {
	pkt, err := protocol.Decode(dg.Data)
	if err != nil {
		c.malformed.Add(1)
		c.log.Debug("dropping malformed datagram", zap.Stringer("from", dg.From), zap.Error(err))
		return
	}
	if pkt.Source != c.source {
		c.foreign.Add(1)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.table[pkt.Token()]
	if !ok || (!p.target.IsZero() && pkt.Target != p.target) {
		c.stray.Add(1)
		c.log.Debug("dropping stray reply",
			zap.Uint8("token", uint8(pkt.Token())),
			zap.Stringer("device", pkt.Target),
			zap.String("type", protocol.TypeName(pkt.Type)),
		)
		return
	}
	reply := Reply{Packet: pkt, From: dg.From, At: dg.At}

	if p.stream != nil {
		if pkt.Type != p.want {
			c.mismatched.Add(1)
			return
		}
		select {
		case p.stream <- reply:
			c.matched.Add(1)
		default:
			c.log.Warn("stream buffer full, dropping reply", zap.Stringer("from", dg.From))
		}
		return
	}

	delete(c.table, p.token)
	c.matched.Add(1)
	if pkt.Type != p.want {
		c.mismatched.Add(1)
		p.result <- result{err: lanerr.Mismatch("request", dg.From.String(),
			protocol.TypeName(p.want), protocol.TypeName(pkt.Type))}
		return
	}
	p.result <- result{reply: reply}
}

// allocate reserves a free token. Caller holds c.mu.
func (c *Correlator) allocate(now time.Time) (protocol.Token, error) {
	if c.closed {
		return 0, lanerr.New(lanerr.KindStopped, "request", errors.New("correlator closed"))
	}
	for t, until := range c.quarantine {
		if !now.Before(until) {
			delete(c.quarantine, t)
		}
	}
	for i := 0; i < tokenSpace; i++ {
		t := protocol.Token(c.next)
		c.next++
		if _, live := c.table[t]; live {
			continue
		}
		if _, held := c.quarantine[t]; held {
			continue
		}
		return t, nil
	}
	e := lanerr.New(lanerr.KindBusy, "request", nil)
	e.Message = fmt.Sprintf("all %d correlation tokens in flight or quarantined", tokenSpace)
	return 0, e
}

func (c *Correlator) register(p *pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.allocate(p.created)
	if err != nil {
		return err
	}
	p.token = t
	c.table[t] = p
	return nil
}

// release removes p if it is still pending and quarantines its token for
// linger. It reports whether p was still pending.
func (c *Correlator) release(p *pending, linger time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.table[p.token]; !ok || cur != p {
		return false
	}
	delete(c.table, p.token)
	if linger > 0 {
		c.quarantine[p.token] = time.Now().Add(linger)
	}
	if p.stream != nil {
		close(p.stream)
	}
	return true
}

func (c *Correlator) send(ctx context.Context, p *pending, msg protocol.Message) error {
	pkt := protocol.NewPacket(p.target, msg)
	pkt.Source = c.source
	pkt.SetToken(p.token)
	data, err := protocol.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg, err)
	}
	logging.LogRequest(c.log, uint8(p.token), p.addr, msg.String())
	if err := c.tr.Send(ctx, data, p.addr); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// Request sends msg to the device target at addr and waits for its reply.
// It fails with a Timeout if no matching reply arrives within timeout, with
// ProtocolMismatch if the reply has the wrong shape, and with the
// transport's error if sending fails.
func (c *Correlator) Request(ctx context.Context, addr *net.UDPAddr, target protocol.DeviceID, msg protocol.Message, timeout time.Duration) (*protocol.Packet, error) {
	want, ok := protocol.ExpectedReply(msg)
	if !ok {
		return nil, fmt.Errorf("request: %s expects no reply", msg)
	}
	now := time.Now()
	p := &pending{
		target:   target,
		want:     want,
		addr:     addr,
		created:  now,
		deadline: now.Add(timeout),
		result:   make(chan result, 1),
	}
	if err := c.register(p); err != nil {
		return nil, err
	}
	if err := c.send(ctx, p, msg); err != nil {
		c.release(p, 0)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.result:
		return res.reply.Packet, res.err
	case <-timer.C:
	case <-ctx.Done():
	}

	linger := c.linger
	if linger < 0 {
		linger = timeout
	}
	if !c.release(p, linger) {
		// resolved between the deadline firing and the release
		res := <-p.result
		return res.reply.Packet, res.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.timeouts.Add(1)
	c.log.Debug("request timed out",
		zap.Uint8("token", uint8(p.token)),
		zap.Stringer("addr", addr),
		zap.String("type", protocol.TypeName(msg.Type())),
		zap.Duration("timeout", timeout),
	)
	e := lanerr.Timeout("request", addr.String())
	e.Device = target.String()
	return nil, e
}

// Stream is a fan-in exchange: one request, any number of replies.
type Stream struct {
	c     *Correlator
	p     *pending
	once  sync.Once
	Token protocol.Token
}

// C delivers matching replies until the stream is closed.
func (s *Stream) C() <-chan Reply { return s.p.stream }

// Close releases the stream's token.
func (s *Stream) Close() {
	s.once.Do(func() {
		linger := s.c.linger
		if linger < 0 {
			linger = DefaultStreamLinger
		}
		s.c.release(s.p, linger)
	})
}

// Stream sends msg to addr and returns a stream of every reply carrying the
// same token and the expected reply type. A zero target accepts replies from
// any device.
func (c *Correlator) Stream(ctx context.Context, addr *net.UDPAddr, target protocol.DeviceID, msg protocol.Message) (*Stream, error) {
	want, ok := protocol.ExpectedReply(msg)
	if !ok {
		return nil, fmt.Errorf("stream: %s expects no reply", msg)
	}
	p := &pending{
		target:  target,
		want:    want,
		addr:    addr,
		created: time.Now(),
		stream:  make(chan Reply, streamBuffer),
	}
	if err := c.register(p); err != nil {
		return nil, err
	}
	if err := c.send(ctx, p, msg); err != nil {
		c.release(p, 0)
		return nil, err
	}
	return &Stream{c: c, p: p, Token: p.token}, nil
}

func (c *Correlator) failAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, p := range c.table {
		delete(c.table, t)
		if p.stream != nil {
			close(p.stream)
			continue
		}
		p.result <- result{err: cause}
	}
}

// Close fails every pending request with a Stopped error and refuses new
// ones. It does not close the transport.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.failAll(lanerr.New(lanerr.KindStopped, "request", errors.New("correlator closed")))
}

// Pending returns the number of requests and streams in flight.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Stats returns a snapshot of the dispatch counters.
func (c *Correlator) Stats() Stats {
	return Stats{
		Sent:       c.sent.Load(),
		Matched:    c.matched.Load(),
		Stray:      c.stray.Load(),
		Foreign:    c.foreign.Load(),
		Malformed:  c.malformed.Load(),
		Mismatched: c.mismatched.Load(),
		Timeouts:   c.timeouts.Load(),
	}
}
