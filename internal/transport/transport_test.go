package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/muurk/lumen/internal/lanerr"
)

func listenLoopback(t *testing.T) *UDP {
	t.Helper()
	u, err := Listen("127.0.0.1:0", WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func TestUDP_SendReceive(t *testing.T) {
	a := listenLoopback(t)
	b := listenLoopback(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte("hello bulb")
	if err := a.Send(ctx, payload, b.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	dg, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(dg.Data, payload) {
		t.Errorf("Data = %q, want %q", dg.Data, payload)
	}
	if dg.From.Port != a.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("From = %v, want port of sender", dg.From)
	}
}

func TestUDP_ReceiveHonoursContext(t *testing.T) {
	u := listenLoopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := u.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Receive() took %v to notice cancellation", elapsed)
	}
}

func TestUDP_SendAfterClose(t *testing.T) {
	u := listenLoopback(t)
	if err := u.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	err := u.Send(context.Background(), []byte{1}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	if !lanerr.IsStopped(err) {
		t.Errorf("Send() after close error = %v, want stopped", err)
	}
}

func TestUDP_ConcurrentSendDuringReceive(t *testing.T) {
	a := listenLoopback(t)
	b := listenLoopback(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	recvErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := a.Receive(ctx)
		recvErr <- err
	}()

	// a is blocked in Receive; Send on a must not wait for it.
	sendDone := make(chan error, 1)
	go func() { sendDone <- a.Send(ctx, []byte("ping"), b.LocalAddr().(*net.UDPAddr)) }()
	select {
	case err := <-sendDone:
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send() blocked behind Receive()")
	}

	if _, err := b.Receive(ctx); err != nil {
		t.Fatalf("b.Receive() error = %v", err)
	}
	if err := b.Send(ctx, []byte("pong"), a.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("b.Send() error = %v", err)
	}
	wg.Wait()
	if err := <-recvErr; err != nil {
		t.Errorf("a.Receive() error = %v", err)
	}
}

type scriptedConn struct {
	mu    sync.Mutex
	reads []error
}

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }
func (c *scriptedConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		n := copy(b, []byte{0xAB})
		return n, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 56700}, nil
	}
	err := c.reads[0]
	c.reads = c.reads[1:]
	return 0, nil, err
}
func (c *scriptedConn) WriteToUDP(b []byte, _ *net.UDPAddr) (int, error) { return len(b), nil }
func (c *scriptedConn) LocalAddr() net.Addr                              { return &net.UDPAddr{Port: 1} }
func (c *scriptedConn) Close() error                                     { return nil }

func TestUDP_SkipsTransientReadErrors(t *testing.T) {
	conn := &scriptedConn{reads: []error{
		&net.OpError{Op: "read", Err: syscall.ECONNREFUSED},
		&net.OpError{Op: "read", Err: syscall.EHOSTUNREACH},
	}}
	u := New(conn, WithLogger(zaptest.NewLogger(t)))

	dg, err := u.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(dg.Data) != 1 || dg.Data[0] != 0xAB {
		t.Errorf("Data = %x", dg.Data)
	}
}

func TestUDP_FatalReadError(t *testing.T) {
	conn := &scriptedConn{reads: []error{errors.New("socket exploded")}}
	u := New(conn, WithLogger(zaptest.NewLogger(t)))

	_, err := u.Receive(context.Background())
	if !lanerr.IsIO(err) {
		t.Fatalf("Receive() error = %v, want io error", err)
	}
}

func TestListen_UsesListenUDPHook(t *testing.T) {
	orig := ListenUDP
	defer func() { ListenUDP = orig }()

	called := false
	ListenUDP = func(network string, laddr *net.UDPAddr) (UDPConn, error) {
		called = true
		return &scriptedConn{}, nil
	}
	u, err := Listen(":0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer u.Close()
	if !called {
		t.Error("ListenUDP hook not used")
	}
}
