// Package transport moves raw datagrams between lumen and devices.
//
// It does no retries and no decoding; both belong to the correlator.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
)

// Datagram is one received packet and where it came from.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
	At   time.Time
}

// Transport sends and receives datagrams. Send and Receive may be called
// concurrently; neither blocks the other.
type Transport interface {
	Send(ctx context.Context, data []byte, addr *net.UDPAddr) error
	Receive(ctx context.Context) (Datagram, error)
	LocalAddr() net.Addr
	Close() error
}

// UDPConn is the subset of *net.UDPConn the transport uses. It exists so
// tests can substitute a fake socket.
type UDPConn interface {
	SetReadDeadline(t time.Time) error
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// ListenUDP opens the socket. Broadcast is enabled on the returned
// connection. Replaceable in tests.
var ListenUDP = func(network string, laddr *net.UDPAddr) (UDPConn, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	if err := enableBroadcast(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = setBroadcast(fd)
	}); err != nil {
		return err
	}
	return serr
}

// pollInterval bounds how long a blocked Receive takes to notice ctx
// cancellation.
const pollInterval = 250 * time.Millisecond

// UDP is a Transport over one UDP socket.
type UDP struct {
	conn   UDPConn
	log    *zap.Logger
	bufLen int

	readMu sync.Mutex
	buf    []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a UDP transport.
type Option func(*UDP)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(u *UDP) { u.log = l }
}

// WithBufferSize sets the receive buffer size.
func WithBufferSize(n int) Option {
	return func(u *UDP) {
		if n > 0 {
			u.bufLen = n
		}
	}
}

// Listen binds a UDP transport to bind, e.g. ":0" or "0.0.0.0:56700".
func Listen(bind string, opts ...Option) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address %q: %w", bind, err)
	}
	conn, err := ListenUDP("udp4", laddr)
	if err != nil {
		return nil, lanerr.ClassifyIOError("listen", bind, err)
	}
	return New(conn, opts...), nil
}

// New wraps an open connection.
func New(conn UDPConn, opts ...Option) *UDP {
	u := &UDP{
		conn:   conn,
		bufLen: protocol.MaxPacketSize,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = logging.Named(u.log, "transport")
	u.buf = make([]byte, u.bufLen)
	u.log.Debug("transport open", zap.Stringer("local_addr", conn.LocalAddr()))
	return u
}

// Send writes one datagram to addr, unicast or broadcast.
func (u *UDP) Send(ctx context.Context, data []byte, addr *net.UDPAddr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-u.closed:
		return lanerr.New(lanerr.KindStopped, "send", net.ErrClosed)
	default:
	}
	n, err := u.conn.WriteToUDP(data, addr)
	if err != nil {
		return lanerr.ClassifyIOError("send", addr.String(), err)
	}
	if n != len(data) {
		return lanerr.ClassifyIOError("send", addr.String(), fmt.Errorf("short write: %d of %d bytes", n, len(data)))
	}
	logging.LogDatagram(u.log, "out", addr, data)
	return nil
}

// Receive blocks until a datagram arrives, ctx is done, or the socket
// fails. Read deadlines are used in short slices so ctx is honoured.
func (u *UDP) Receive(ctx context.Context) (Datagram, error) {
	u.readMu.Lock()
	defer u.readMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}
		deadline := time.Now().Add(pollInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := u.conn.SetReadDeadline(deadline); err != nil {
			return Datagram{}, lanerr.ClassifyIOError("receive", "", err)
		}
		n, from, err := u.conn.ReadFromUDP(u.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if isTransientReadError(err) {
				u.log.Debug("ignoring transient read error", zap.Error(err))
				continue
			}
			return Datagram{}, lanerr.ClassifyIOError("receive", "", err)
		}
		data := make([]byte, n)
		copy(data, u.buf[:n])
		logging.LogDatagram(u.log, "in", from, data)
		return Datagram{Data: data, From: from, At: time.Now()}, nil
	}
}

// isTransientReadError reports errors a UDP read surfaces after an ICMP
// error for an earlier send; they do not mean the socket is broken.
func isTransientReadError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close closes the socket. Safe to call more than once.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.closed)
		err = u.conn.Close()
		u.log.Debug("transport closed")
	})
	return err
}
