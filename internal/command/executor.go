// Package command composes device operations out of correlated requests.
package command

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
)

// DefaultTimeout bounds each sub-request.
const DefaultTimeout = time.Second

// Stage names the sub-request a composite command failed at.
type Stage string

const (
	StagePower Stage = "set-power"
	StageColor Stage = "set-color"
)

// StageError is the detail carried inside a DeviceUnreachable failure.
type StageError struct {
	Stage Stage
	// PowerApplied is true when the power request was acknowledged before
	// the failure, leaving the device powered but with its old color.
	PowerApplied bool
	Err          error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (power applied: %t): %v", e.Stage, e.PowerApplied, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Requester sends one correlated request. *correlator.Correlator satisfies it.
type Requester interface {
	Request(ctx context.Context, addr *net.UDPAddr, target protocol.DeviceID, msg protocol.Message, timeout time.Duration) (*protocol.Packet, error)
}

// Executor runs commands against devices.
type Executor struct {
	r       Requester
	timeout time.Duration
	log     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor sending through r.
func NewExecutor(r Requester, opts ...Option) *Executor {
	e := &Executor{r: r, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.Named(e.log, "command")
	return e
}

// SetColorAndPower sets power and then color, in that order. The two are
// not atomic. Any failure is reported as DeviceUnreachable wrapping a
// *StageError that says how far the command got.
func (e *Executor) SetColorAndPower(ctx context.Context, dev discovery.Device, job Job) error {
	const op = "set-color-and-power"
	log := e.log.With(zap.Stringer("device", dev.ID), zap.Stringer("job", job))

	if err := e.send(ctx, dev, &protocol.SetPower{Level: protocol.PowerFor(job.Power)}); err != nil {
		log.Debug("power request failed", zap.Error(err))
		return lanerr.Unreachable(op, dev.ID.String(), &StageError{Stage: StagePower, Err: err})
	}
	if err := e.send(ctx, dev, colorMessage(job.Color, job.Duration)); err != nil {
		log.Warn("color request failed after power was applied", zap.Error(err))
		return lanerr.Unreachable(op, dev.ID.String(), &StageError{Stage: StageColor, PowerApplied: true, Err: err})
	}
	log.Debug("command applied")
	return nil
}

// SetPower switches the device on or off.
func (e *Executor) SetPower(ctx context.Context, dev discovery.Device, on bool) error {
	if err := e.send(ctx, dev, &protocol.SetPower{Level: protocol.PowerFor(on)}); err != nil {
		return lanerr.Unreachable("set-power", dev.ID.String(), &StageError{Stage: StagePower, Err: err})
	}
	return nil
}

// SetColor changes the color without touching power.
func (e *Executor) SetColor(ctx context.Context, dev discovery.Device, color protocol.HSBK, duration time.Duration) error {
	if err := e.send(ctx, dev, colorMessage(color, duration)); err != nil {
		return lanerr.Unreachable("set-color", dev.ID.String(), &StageError{Stage: StageColor, Err: err})
	}
	return nil
}

// State reads the device's current color and power.
func (e *Executor) State(ctx context.Context, dev discovery.Device) (*protocol.LightState, error) {
	pkt, err := e.r.Request(ctx, dev.Addr, dev.ID, protocol.LightGet{}, e.timeout)
	if err != nil {
		return nil, err
	}
	st, ok := pkt.Message.(*protocol.LightState)
	if !ok {
		return nil, lanerr.Mismatch("get-state", dev.HostPort(), "LightState", pkt.Message.String())
	}
	return st, nil
}

func (e *Executor) send(ctx context.Context, dev discovery.Device, msg protocol.Message) error {
	if dev.Addr == nil {
		return lanerr.New(lanerr.KindIO, msg.String(), fmt.Errorf("device %s has no address", dev.ID))
	}
	_, err := e.r.Request(ctx, dev.Addr, dev.ID, msg, e.timeout)
	return err
}

func colorMessage(c protocol.HSBK, d time.Duration) *protocol.LightSetColor {
	return &protocol.LightSetColor{Color: c.Clamp(), Duration: uint32(d / time.Millisecond)}
}
