package correlator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/protocol"
	"github.com/muurk/lumen/internal/testutil/simnet"
)

func bulbID(i int) protocol.DeviceID {
	return protocol.DeviceID{0xd0, 0x73, 0xd5, 0x00, byte(i >> 8), byte(i)}
}

type harness struct {
	net    *simnet.Network
	client *simnet.Endpoint
	c      *Correlator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	n := simnet.New()
	client := n.Listen("10.0.0.1:50000")
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c := New(client, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		n.Close()
	})
	return &harness{net: n, client: client, c: c}
}

func fixedDelay(d time.Duration) func(uint16) time.Duration {
	return func(uint16) time.Duration { return d }
}

func label(t *testing.T, pkt *protocol.Packet) string {
	t.Helper()
	sl, ok := pkt.Message.(*protocol.StateLabel)
	if !ok {
		t.Fatalf("reply = %s, want StateLabel", pkt.Message)
	}
	return sl.Label
}

func TestRequest_ConcurrentRepliesResolveTheirOwnRequests(t *testing.T) {
	h := newHarness(t)

	const n = 40
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		h.net.AddBulb(fmt.Sprintf("10.0.1.%d", i+1), &simnet.Bulb{
			ID:    bulbID(i),
			Label: fmt.Sprintf("bulb-%02d", i),
			Delay: fixedDelay(time.Duration(rng.Intn(80)) * time.Millisecond),
		})
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := simnet.MustAddr(fmt.Sprintf("10.0.1.%d", i+1))
			pkt, err := h.c.Request(context.Background(), addr, bulbID(i), protocol.GetLabel{}, time.Second)
			if err != nil {
				errs <- fmt.Errorf("bulb %d: %w", i, err)
				return
			}
			got := pkt.Message.(*protocol.StateLabel).Label
			if want := fmt.Sprintf("bulb-%02d", i); got != want {
				errs <- fmt.Errorf("bulb %d: label = %q, want %q", i, got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if p := h.c.Pending(); p != 0 {
		t.Errorf("Pending() = %d after all requests resolved", p)
	}
	if s := h.c.Stats(); s.Matched != n {
		t.Errorf("Stats().Matched = %d, want %d", s.Matched, n)
	}
}

func TestRequest_Timeout(t *testing.T) {
	h := newHarness(t)

	start := time.Now()
	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.9.9"), bulbID(99), protocol.GetLabel{}, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !lanerr.IsTimeout(err) {
		t.Fatalf("Request() error = %v, want timeout", err)
	}
	if !lanerr.IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
	if elapsed < 100*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("Request() returned after %v, want about 100ms", elapsed)
	}
	if s := h.c.Stats(); s.Timeouts != 1 {
		t.Errorf("Stats().Timeouts = %d, want 1", s.Timeouts)
	}
}

func TestRequest_ContextCancel(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.c.Request(ctx, simnet.MustAddr("10.0.9.9"), bulbID(99), protocol.GetLabel{}, 5*time.Second)
	if err != context.DeadlineExceeded {
		t.Fatalf("Request() error = %v, want context.DeadlineExceeded", err)
	}
	if p := h.c.Pending(); p != 0 {
		t.Errorf("Pending() = %d, want 0", p)
	}
}

func TestRequest_LateReplyIsQuarantined(t *testing.T) {
	h := newHarness(t)

	h.net.AddBulb("10.0.1.1", &simnet.Bulb{ID: bulbID(1), Label: "slow", Delay: fixedDelay(250 * time.Millisecond)})
	h.net.AddBulb("10.0.1.2", &simnet.Bulb{ID: bulbID(2), Label: "fast", Delay: fixedDelay(150 * time.Millisecond)})

	h.c.mu.Lock()
	h.c.next = 7
	h.c.mu.Unlock()

	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.1"), bulbID(1), protocol.GetLabel{}, 100*time.Millisecond)
	if !lanerr.IsTimeout(err) {
		t.Fatalf("first Request() error = %v, want timeout", err)
	}

	// Point the counter back at the expired token.
	h.c.mu.Lock()
	h.c.next = 7
	h.c.mu.Unlock()

	pkt, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.2"), bulbID(2), protocol.GetLabel{}, time.Second)
	if err != nil {
		t.Fatalf("second Request() error = %v", err)
	}
	if pkt.Token() == 7 {
		t.Errorf("second request reused quarantined token 7")
	}
	if got := label(t, pkt); got != "fast" {
		t.Errorf("label = %q, want fast", got)
	}

	// the slow bulb's reply lands while the second request is outstanding
	// and must be dropped as a stray
	time.Sleep(50 * time.Millisecond)
	if s := h.c.Stats(); s.Stray != 1 {
		t.Errorf("Stats().Stray = %d, want 1", s.Stray)
	}
}

func TestRequest_LateReplyFromOtherDeviceIgnored(t *testing.T) {
	// No quarantine: the token is reused at once and only the device
	// identity check separates the two replies.
	h := newHarness(t, WithLinger(0))

	h.net.AddBulb("10.0.1.1", &simnet.Bulb{ID: bulbID(1), Label: "slow", Delay: fixedDelay(200 * time.Millisecond)})
	h.net.AddBulb("10.0.1.2", &simnet.Bulb{ID: bulbID(2), Label: "fast", Delay: fixedDelay(300 * time.Millisecond)})

	h.c.mu.Lock()
	h.c.next = 42
	h.c.mu.Unlock()
	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.1"), bulbID(1), protocol.GetLabel{}, 50*time.Millisecond)
	if !lanerr.IsTimeout(err) {
		t.Fatalf("first Request() error = %v, want timeout", err)
	}

	h.c.mu.Lock()
	h.c.next = 42
	h.c.mu.Unlock()
	pkt, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.2"), bulbID(2), protocol.GetLabel{}, time.Second)
	if err != nil {
		t.Fatalf("second Request() error = %v", err)
	}
	if pkt.Token() != 42 {
		t.Fatalf("token = %d, want reused 42", pkt.Token())
	}
	if got := label(t, pkt); got != "fast" {
		t.Errorf("label = %q, want fast (late reply from slow bulb resolved the wrong request)", got)
	}
	if s := h.c.Stats(); s.Stray != 1 {
		t.Errorf("Stats().Stray = %d, want 1", s.Stray)
	}
}

func TestRequest_WrongReplyShape(t *testing.T) {
	h := newHarness(t)
	h.net.AddBulb("10.0.1.1", &simnet.Bulb{
		ID:       bulbID(1),
		Override: map[uint16]protocol.Message{protocol.TypeGetLabel: &protocol.StatePower{Level: protocol.PowerOn}},
	})

	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.1"), bulbID(1), protocol.GetLabel{}, time.Second)
	if !lanerr.IsProtocolMismatch(err) {
		t.Fatalf("Request() error = %v, want protocol mismatch", err)
	}
	if lanerr.IsRetryable(err) {
		t.Error("mismatch should not be retryable")
	}
}

func TestRequest_AckForSet(t *testing.T) {
	h := newHarness(t)
	b := h.net.AddBulb("10.0.1.1", &simnet.Bulb{ID: bulbID(1)})

	pkt, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.1"), bulbID(1), &protocol.SetPower{Level: protocol.PowerOn}, time.Second)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if pkt.Type != protocol.TypeAcknowledgement {
		t.Errorf("reply type = %s, want Acknowledgement", protocol.TypeName(pkt.Type))
	}
	if !b.State().Power.On() {
		t.Error("bulb not powered on")
	}
}

func TestRequest_NoReplyExpected(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.1"), bulbID(1), protocol.Acknowledgement{}, time.Second)
	if err == nil {
		t.Fatal("Request() with a reply-less message succeeded")
	}
}

func TestRequest_BusyWhenTokensExhausted(t *testing.T) {
	h := newHarness(t)

	h.c.mu.Lock()
	until := time.Now().Add(time.Minute)
	for i := 0; i < tokenSpace; i++ {
		h.c.quarantine[protocol.Token(i)] = until
	}
	h.c.mu.Unlock()

	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.1.1"), bulbID(1), protocol.GetLabel{}, time.Second)
	if lanerr.KindOf(err) != lanerr.KindBusy {
		t.Fatalf("Request() error = %v, want busy", err)
	}
}

func TestQuarantineExpires(t *testing.T) {
	h := newHarness(t)

	h.c.mu.Lock()
	past := time.Now().Add(-time.Millisecond)
	for i := 0; i < tokenSpace; i++ {
		h.c.quarantine[protocol.Token(i)] = past
	}
	_, err := h.c.allocate(time.Now())
	n := len(h.c.quarantine)
	h.c.mu.Unlock()

	if err != nil {
		t.Fatalf("allocate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("quarantine holds %d expired tokens", n)
	}
}

func TestDispatch_DropsStrayForeignAndMalformed(t *testing.T) {
	h := newHarness(t, WithSource(0x1234))

	stray := protocol.NewPacket(bulbID(1), &protocol.StateLabel{Label: "x"})
	stray.Source = 0x1234
	stray.SetToken(200)
	data, _ := protocol.Encode(stray)
	h.client.Inject(data, "10.0.1.1:56700")

	foreign := protocol.NewPacket(bulbID(1), &protocol.StateLabel{Label: "x"})
	foreign.Source = 0x9999
	data, _ = protocol.Encode(foreign)
	h.client.Inject(data, "10.0.1.1:56700")

	h.client.Inject([]byte{1, 2, 3}, "10.0.1.1:56700")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s := h.c.Stats()
		if s.Stray == 1 && s.Foreign == 1 && s.Malformed == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Stats() = %+v, want one stray, one foreign, one malformed", h.c.Stats())
}

func TestStream_CollectsEveryReply(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.net.AddBulb(fmt.Sprintf("10.0.1.%d", i), &simnet.Bulb{ID: bulbID(i), DiscoveryReplies: 2})
	}

	s, err := h.c.Stream(context.Background(), simnet.MustAddr("255.255.255.255"), protocol.BroadcastID, protocol.GetService{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
collect:
	for {
		select {
		case r := <-s.C():
			if _, ok := r.Packet.Message.(*protocol.StateService); !ok {
				t.Errorf("reply = %s", r.Packet.Message)
			}
			got++
		case <-timeout:
			break collect
		}
	}
	s.Close()
	s.Close()

	if got != 6 {
		t.Errorf("received %d replies, want 6", got)
	}
	if _, open := <-s.C(); open {
		t.Error("stream channel still open after Close")
	}
	if p := h.c.Pending(); p != 0 {
		t.Errorf("Pending() = %d after Close", p)
	}
}

func TestClose_FailsPending(t *testing.T) {
	h := newHarness(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.9.9"), bulbID(9), protocol.GetLabel{}, 5*time.Second)
		errc <- err
	}()

	deadline := time.Now().Add(time.Second)
	for h.c.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.c.Close()

	select {
	case err := <-errc:
		if !lanerr.IsStopped(err) {
			t.Errorf("Request() error = %v, want stopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not failed by Close")
	}

	_, err := h.c.Request(context.Background(), simnet.MustAddr("10.0.9.9"), bulbID(9), protocol.GetLabel{}, time.Second)
	if !lanerr.IsStopped(err) {
		t.Errorf("Request() after Close error = %v, want stopped", err)
	}
}
