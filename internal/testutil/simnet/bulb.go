package simnet

import (
	"context"
	"sync"
	"time"

	"github.com/muurk/lumen/internal/protocol"
)

// Bulb is a scripted device attached to a Network. Zero values reply once,
// immediately, to everything.
type Bulb struct {
	ID    protocol.DeviceID
	Label string

	// DiscoveryReplies is how many StateService replies a GetService gets.
	// Zero means one.
	DiscoveryReplies int
	// Delay returns how long to wait before replying to a message type.
	Delay func(msgType uint16) time.Duration
	// Drop reports whether a request of this type is lost before the bulb
	// sees it. Dropped requests do not change state.
	Drop func(msgType uint16) bool
	// Override replaces the reply to a message type, e.g. to send the
	// wrong shape.
	Override map[uint16]protocol.Message

	mu       sync.Mutex
	power    protocol.PowerLevel
	color    protocol.HSBK
	received []uint16
	ep       *Endpoint
	cancel   context.CancelFunc
	done     chan struct{}
}

// State is a bulb's externally visible state.
type State struct {
	Power protocol.PowerLevel
	Color protocol.HSBK
}

// AddBulb attaches b at addr and starts serving.
func (n *Network) AddBulb(addr string, b *Bulb) *Bulb {
	b.ep = n.Listen(MustAddr(addr).String())
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.serve(ctx)
	return b
}

// SetState seeds the bulb's state.
func (b *Bulb) SetState(s State) {
	b.mu.Lock()
	b.power, b.color = s.Power, s.Color
	b.mu.Unlock()
}

// State returns the current state.
func (b *Bulb) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{Power: b.power, Color: b.color}
}

// Received lists the message types the bulb processed, in order.
func (b *Bulb) Received() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint16(nil), b.received...)
}

// Endpoint exposes the bulb's socket.
func (b *Bulb) Endpoint() *Endpoint { return b.ep }

// Stop stops serving and detaches the bulb.
func (b *Bulb) Stop() {
	b.cancel()
	_ = b.ep.Close()
	<-b.done
}

func (b *Bulb) serve(ctx context.Context) {
	defer close(b.done)
	for {
		dg, err := b.ep.Receive(ctx)
		if err != nil {
			return
		}
		req, err := protocol.Decode(dg.Data)
		if err != nil {
			continue
		}
		if !req.Target.IsZero() && req.Target != b.ID {
			continue
		}
		t := req.Message.Type()
		if b.Drop != nil && b.Drop(t) {
			continue
		}
		b.apply(req.Message)

		var delay time.Duration
		if b.Delay != nil {
			delay = b.Delay(t)
		}
		for _, reply := range b.replies(req) {
			out := protocol.NewPacket(b.ID, reply)
			out.Source = req.Source
			out.Sequence = req.Sequence
			out.AckRequired, out.ResRequired = false, false
			data, err := protocol.Encode(out)
			if err != nil {
				continue
			}
			_ = b.ep.SendAfter(ctx, data, dg.From, delay)
		}
	}
}

func (b *Bulb) apply(m protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, m.Type())
	switch msg := m.(type) {
	case *protocol.SetPower:
		b.power = msg.Level
	case *protocol.LightSetColor:
		b.color = msg.Color
	}
}

func (b *Bulb) replies(req *protocol.Packet) []protocol.Message {
	t := req.Message.Type()
	if m, ok := b.Override[t]; ok {
		return []protocol.Message{m}
	}
	st := b.State()
	switch t {
	case protocol.TypeGetService:
		n := b.DiscoveryReplies
		if n <= 0 {
			n = 1
		}
		out := make([]protocol.Message, n)
		for i := range out {
			out[i] = &protocol.StateService{Service: protocol.ServiceUDP, Port: uint32(b.ep.Addr().Port)}
		}
		return out
	case protocol.TypeGetLabel:
		return []protocol.Message{&protocol.StateLabel{Label: b.Label}}
	case protocol.TypeGetPower:
		return []protocol.Message{&protocol.StatePower{Level: st.Power}}
	case protocol.TypeLightGet:
		return []protocol.Message{&protocol.LightState{Color: st.Color, Power: st.Power, Label: b.Label}}
	}
	if req.AckRequired {
		return []protocol.Message{protocol.Acknowledgement{}}
	}
	return nil
}
