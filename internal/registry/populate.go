package registry

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/protocol"
)

const (
	DefaultLabelTimeout     = time.Second
	DefaultLabelConcurrency = 8
)

// Labeler fetches a device's label.
type Labeler interface {
	Label(ctx context.Context, d discovery.Device) (string, error)
}

// Requester sends one correlated request. *correlator.Correlator satisfies it.
type Requester interface {
	Request(ctx context.Context, addr *net.UDPAddr, target protocol.DeviceID, msg protocol.Message, timeout time.Duration) (*protocol.Packet, error)
}

// RequestLabeler fetches labels with a GetLabel request.
type RequestLabeler struct {
	R       Requester
	Timeout time.Duration
}

// Label implements Labeler.
func (l RequestLabeler) Label(ctx context.Context, d discovery.Device) (string, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultLabelTimeout
	}
	pkt, err := l.R.Request(ctx, d.Addr, d.ID, protocol.GetLabel{}, timeout)
	if err != nil {
		return "", err
	}
	sl, ok := pkt.Message.(*protocol.StateLabel)
	if !ok {
		return "", lanerr.Mismatch("get-label", d.HostPort(), "StateLabel", pkt.Message.String())
	}
	return sl.Label, nil
}

// PopulateOptions tunes Populate.
type PopulateOptions struct {
	// Concurrency bounds simultaneous label requests. Zero means
	// DefaultLabelConcurrency.
	Concurrency int
}

// Populate fetches a label for every device concurrently and adds the
// devices to r in the order given. A device whose label request times out
// or is answered with the wrong shape is kept without a label and its
// LabelErr set. Any other failure aborts and leaves r unchanged.
func (r *Registry) Populate(ctx context.Context, devices []discovery.Device, l Labeler, opts PopulateOptions) error {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultLabelConcurrency
	}

	labels := make([]string, len(devices))
	labelErrs := make([]error, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, d := range devices {
		g.Go(func() error {
			label, err := l.Label(gctx, d)
			switch {
			case err == nil:
				labels[i] = label
			case lanerr.IsTimeout(err), lanerr.IsProtocolMismatch(err):
				r.log.Warn("label fetch failed, keeping device",
					zap.Stringer("device", d.ID),
					zap.String("addr", d.HostPort()),
					zap.Error(err),
				)
				labelErrs[i] = err
			default:
				return fmt.Errorf("fetch label for %s: %w", d.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, d := range devices {
		if labels[i] != "" {
			d.Label = labels[i]
		}
		d.LabelErr = labelErrs[i]
		r.Upsert(d)
	}
	r.log.Debug("registry populated", zap.Int("devices", r.Len()))
	return nil
}
