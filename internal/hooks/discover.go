package hooks

import (
	"context"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/pkg/probe"
	"github.com/ryandielhenn/rackmap/pkg/rack"
	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Discoverer runs one discovery round. *probe.Engine implements it.
type Discoverer interface {
	Discover(ctx context.Context, hosts []probe.Host) ([]string, error)
}

type DiscoverOptions struct {
	Dir        registry.Directory
	Controller string
	Engine     Discoverer
	Logger     *zap.Logger
	// Retries is how many times the published neighbor list is read back
	// before giving up (at least once); RetryInterval spaces the reads.
	Retries       int
	RetryInterval time.Duration
}

// DiscoverOutcome says what a Discover call did.
type DiscoverOutcome int

const (
	// NotReady: the controller has not begun discovery.
	NotReady DiscoverOutcome = iota
	// AlreadyFinished: this unit finished in an earlier run.
	AlreadyFinished
	// Converged: neighbors were published and read back.
	Converged
	// Unconverged: neighbors were published but never read back intact.
	Unconverged
)

var errNotConverged = errors.New("published neighbors did not read back")

// Discover finds which related units share this unit's layer-2 segment and
// publishes their hostnames as this unit's neighbors.
func Discover(ctx context.Context, opts DiscoverOptions) (DiscoverOutcome, error) {
	dir, logger := opts.Dir, opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ready, err := isSet(ctx, dir, opts.Controller, KeyReady)
	if err != nil {
		return NotReady, errors.Wrap(err, "failed to read controller state")
	}
	if !ready {
		logger.Info("controller has not begun discovery", zap.String("controller", opts.Controller))
		return NotReady, nil
	}
	finished, err := isSet(ctx, dir, dir.Self(), KeyFinished)
	if err != nil {
		return NotReady, errors.Wrap(err, "failed to read own state")
	}
	if finished {
		logger.Info("discovery already finished")
		return AlreadyFinished, nil
	}

	hosts, err := candidates(ctx, dir, opts.Controller, logger)
	if err != nil {
		return NotReady, err
	}
	found, err := opts.Engine.Discover(ctx, hosts)
	if err != nil {
		return NotReady, errors.Wrap(err, "discovery failed")
	}
	neighbors := rack.FormatNeighbors(found)
	if err := dir.Set(ctx, KeyNeighbors, neighbors); err != nil {
		return NotReady, err
	}

	// WithMaxRetries counts retries after the first attempt.
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryInterval), uint64(max(opts.Retries-1, 0))),
		ctx)
	err = backoff.Retry(func() error {
		got, _, err := lookup(ctx, dir, dir.Self(), KeyNeighbors)
		if err != nil {
			return err
		}
		if got != neighbors {
			logger.Warn("neighbor list did not read back, publishing again",
				zap.String("published", neighbors),
				zap.String("read", got))
			if err := dir.Set(ctx, KeyNeighbors, neighbors); err != nil {
				return err
			}
			return errNotConverged
		}
		return nil
	}, b)
	if err != nil {
		logger.Warn("neighbor list did not converge", zap.Error(err))
		return Unconverged, dir.SetStatus(ctx, registry.StatusBlocked, "Neighbor list did not converge: "+err.Error())
	}

	if err := dir.Set(ctx, KeyFinished, flagSet); err != nil {
		return Converged, err
	}
	logger.Info("published neighbors", zap.Strings("neighbors", found))
	return Converged, dir.SetStatus(ctx, registry.StatusActive, msgDiscoveryDone)
}

// candidates builds the probe list from the controller's related units,
// leaving out this unit and any unit that has not registered an address.
func candidates(ctx context.Context, dir registry.Directory, controller string, logger *zap.Logger) ([]probe.Host, error) {
	units, err := relatedUnits(ctx, dir, controller)
	if err != nil {
		return nil, err
	}
	var hosts []probe.Host
	for _, unit := range units {
		if unit == dir.Self() {
			continue
		}
		hostname, ok, err := lookup(ctx, dir, unit, KeyHostname)
		if err != nil {
			return nil, err
		}
		raw, ok2, err := lookup(ctx, dir, unit, KeyPrivateAddress)
		if err != nil {
			return nil, err
		}
		if !ok || !ok2 {
			logger.Warn("unit has not registered", zap.String("unit", unit))
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			logger.Warn("unit registered a bad address", zap.String("unit", unit), zap.String("address", raw))
			continue
		}
		hosts = append(hosts, probe.Host{Name: hostname, Addr: addr})
	}
	return hosts, nil
}
