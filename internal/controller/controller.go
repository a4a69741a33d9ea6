// Package controller wires the transport, correlator, bridge, discovery
// engine and command executor into the object a control surface drives.
//
// The startup path is fixed: Open, Start, then DiscoverAndPopulate once,
// which blocks the caller until the registry is built. After that the
// caller only reads the registry and submits commands with Apply or
// SetPower, which return at once.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/bridge"
	"github.com/muurk/lumen/internal/command"
	"github.com/muurk/lumen/internal/config"
	"github.com/muurk/lumen/internal/correlator"
	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/protocol"
	"github.com/muurk/lumen/internal/registry"
	"github.com/muurk/lumen/internal/transport"
)

const stopTimeout = 2 * time.Second

// Controller is the composition root.
type Controller struct {
	cfg    *config.Config
	log    *zap.Logger
	tr     transport.Transport
	corr   *correlator.Correlator
	bridge *bridge.Bridge
	engine *discovery.Engine
	exec   *command.Executor
	reg    *registry.Registry
}

// Option configures Open.
type Option func(*options)

type options struct {
	tr      transport.Transport
	log     *zap.Logger
	sources []discovery.Source
}

// WithTransport uses tr instead of opening a UDP socket.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) { o.tr = tr }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSource adds a discovery source on top of those the config enables.
func WithSource(s discovery.Source) Option {
	return func(o *options) { o.sources = append(o.sources, s) }
}

// Open builds a controller from cfg. Nothing runs until Start.
func Open(cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = logging.GetLogger()
	}

	tr := o.tr
	if tr == nil {
		udp, err := transport.Listen(cfg.Transport.Bind,
			transport.WithLogger(log.Named("transport")),
			transport.WithBufferSize(cfg.Transport.ReadBuffer),
		)
		if err != nil {
			return nil, err
		}
		tr = udp
	}

	linger := cfg.Request.TokenLinger
	if linger == 0 {
		linger = -1
	}
	corr := correlator.New(tr,
		correlator.WithLogger(log.Named("correlator")),
		correlator.WithLinger(linger),
	)

	engineOpts := []discovery.Option{
		discovery.WithLogger(log.Named("discovery")),
		discovery.WithBroadcastAddr(cfg.BroadcastAddr()),
	}
	if cfg.Discovery.MDNS {
		engineOpts = append(engineOpts, discovery.WithSource(discovery.NewMDNSSource(cfg.Discovery.MDNSService, log)))
	}
	for _, s := range o.sources {
		engineOpts = append(engineOpts, discovery.WithSource(s))
	}

	c := &Controller{
		cfg:  cfg,
		log:  log.Named("controller"),
		tr:   tr,
		corr: corr,
		bridge: bridge.New(
			bridge.WithLogger(log.Named("bridge")),
			bridge.WithMaxConcurrent(cfg.Bridge.MaxConcurrent),
			bridge.WithQueueDepth(cfg.Bridge.QueueDepth),
		),
		engine: discovery.NewEngine(corr, engineOpts...),
		exec: command.NewExecutor(corr,
			command.WithTimeout(cfg.Request.Timeout),
			command.WithLogger(log.Named("command")),
		),
		reg: registry.New(log.Named("registry")),
	}
	return c, nil
}

// Start runs the bridge and the correlator's dispatch loop on it.
func (c *Controller) Start() error {
	if err := c.bridge.Start(); err != nil {
		return err
	}
	return c.bridge.Submit("dispatch", func(ctx context.Context) {
		if err := c.corr.Run(ctx); err != nil {
			c.log.Error("dispatch loop exited", zap.Error(err))
		}
	})
}

// DiscoverAndPopulate discovers devices and fetches their labels, blocking
// until the registry is built. Zero devices is not an error.
func (c *Controller) DiscoverAndPopulate(ctx context.Context) error {
	return c.bridge.RunBlocking(ctx, func(ctx context.Context) error {
		devices, err := c.engine.Discover(ctx, c.cfg.Discovery.Window)
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		labeler := registry.RequestLabeler{R: c.corr, Timeout: c.cfg.Labels.Timeout}
		return c.reg.Populate(ctx, devices, labeler, registry.PopulateOptions{Concurrency: c.cfg.Labels.Concurrency})
	})
}

// Discover runs discovery alone, without labels, blocking the caller.
func (c *Controller) Discover(ctx context.Context) ([]discovery.Device, error) {
	var devices []discovery.Device
	err := c.bridge.RunBlocking(ctx, func(ctx context.Context) error {
		var err error
		devices, err = c.engine.Discover(ctx, c.cfg.Discovery.Window)
		return err
	})
	return devices, err
}

// Registry returns the device registry. It is only written during
// DiscoverAndPopulate.
func (c *Controller) Registry() *registry.Registry { return c.reg }

// State reads the current color and power of the device at index,
// blocking the caller until the reply arrives or the request times out.
func (c *Controller) State(ctx context.Context, index int) (*protocol.LightState, error) {
	dev, err := c.reg.Lookup(index)
	if err != nil {
		return nil, err
	}
	var st *protocol.LightState
	err = c.bridge.RunBlocking(ctx, func(ctx context.Context) error {
		var err error
		st, err = c.exec.State(ctx, dev)
		return err
	})
	return st, err
}

func (c *Controller) retryPolicy() command.RetryPolicy {
	p := command.DefaultRetryPolicy
	p.Attempts = c.cfg.Command.RetryAttempts
	p.InitialInterval = c.cfg.Command.InitialBackoff
	return p
}

// Apply submits job for the device at index and returns at once. The
// command is retried per the configured policy; its final outcome goes to
// done, if given, and to the log. done runs on a bridge goroutine.
func (c *Controller) Apply(index int, job command.Job, done func(error)) error {
	dev, err := c.reg.Lookup(index)
	if err != nil {
		return err
	}
	return c.submit("apply", dev, done, func(ctx context.Context) error {
		return c.exec.SetColorAndPower(ctx, dev, job)
	})
}

// SetPower submits a power change for the device at index.
func (c *Controller) SetPower(index int, on bool, done func(error)) error {
	dev, err := c.reg.Lookup(index)
	if err != nil {
		return err
	}
	return c.submit("set-power", dev, done, func(ctx context.Context) error {
		return c.exec.SetPower(ctx, dev, on)
	})
}

func (c *Controller) submit(name string, dev discovery.Device, done func(error), op func(context.Context) error) error {
	policy := c.retryPolicy()
	return c.bridge.Submit(name, func(ctx context.Context) {
		err := command.Retrying(ctx, policy, c.log, op)
		if err != nil {
			c.log.Warn("command failed",
				zap.String("command", name),
				zap.String("device", dev.DisplayName()),
				zap.Error(err),
			)
		} else {
			c.log.Debug("command applied", zap.String("command", name), zap.String("device", dev.DisplayName()))
		}
		if done != nil {
			done(err)
		}
	})
}

// ResolveDevice maps a selector (registry index or device id) to an index.
func (c *Controller) ResolveDevice(sel string) (int, error) {
	if id, err := protocol.ParseDeviceID(sel); err == nil {
		if i := c.reg.IndexOf(id); i >= 0 {
			return i, nil
		}
		return 0, fmt.Errorf("device %s not found", id)
	}
	i, err := strconv.Atoi(sel)
	if err != nil {
		return 0, fmt.Errorf("device %q is neither an index nor a device id", sel)
	}
	if _, err := c.reg.Lookup(i); err != nil {
		return 0, err
	}
	return i, nil
}

// Stats returns the correlator counters.
func (c *Controller) Stats() correlator.Stats { return c.corr.Stats() }

// Close stops the bridge, fails outstanding requests and closes the socket.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var err error
	if e := c.bridge.Stop(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("stop bridge: %w", e))
	}
	c.corr.Close()
	s := c.Stats()
	c.log.Debug("correlator totals",
		zap.Uint64("sent", s.Sent),
		zap.Uint64("matched", s.Matched),
		zap.Uint64("timeouts", s.Timeouts),
		zap.Uint64("stray", s.Stray),
	)
	if e := c.tr.Close(); e != nil && !lanerr.IsStopped(e) {
		err = multierr.Append(err, fmt.Errorf("close transport: %w", e))
	}
	return err
}
