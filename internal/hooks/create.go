package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/internal/telemetry"
	"github.com/ryandielhenn/rackmap/pkg/crush"
	"github.com/ryandielhenn/rackmap/pkg/placement"
	"github.com/ryandielhenn/rackmap/pkg/rack"
	"github.com/ryandielhenn/rackmap/pkg/registry"
)

type CreateOptions struct {
	Dir           registry.Directory
	Logger        *zap.Logger
	CurrentMap    string
	OutputMap     string
	LabelPrefix   string
	FailureDomain string
}

// Create gathers every agent's neighbors, groups hosts into racks and writes
// a CRUSH map with that hierarchy to OutputMap. The output file is only
// touched when the whole map was built.
func Create(ctx context.Context, opts CreateOptions) (*placement.Result, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	res, err := create(ctx, opts)
	if err != nil {
		telemetry.Syntheses.WithLabelValues("failure").Inc()
		opts.Logger.Error("failed to create crushmap", zap.Error(err))
		msg := "Failed to create crushmap with error: " + err.Error()
		if serr := opts.Dir.SetStatus(ctx, registry.StatusBlocked, msg); serr != nil {
			opts.Logger.Warn("failed to publish status", zap.Error(serr))
		}
		return nil, err
	}
	telemetry.Syntheses.WithLabelValues("success").Inc()
	msg := fmt.Sprintf("Crushmap generated in %s. Please examine crushmap with Ceph before use.", filepath.Dir(opts.OutputMap))
	return res, opts.Dir.SetStatus(ctx, registry.StatusActive, msg)
}

func create(ctx context.Context, opts CreateOptions) (*placement.Result, error) {
	dir, logger := opts.Dir, opts.Logger

	ns, err := gatherNeighbors(ctx, dir)
	if err != nil {
		return nil, err
	}
	clustered := rack.Cluster(ns)
	telemetry.OrphanHosts.Set(float64(len(clustered.Orphans)))
	if len(clustered.Orphans) > 0 {
		logger.Warn("hosts left out of every neighbor group were given their own rack",
			zap.Strings("hosts", clustered.Orphans))
	}

	raw, err := os.ReadFile(opts.CurrentMap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read current map")
	}
	current, err := crush.Decode(raw)
	if err != nil {
		return nil, err
	}

	res, err := placement.Synthesize(current, clustered.Racks, placement.Options{
		LabelPrefix:   opts.LabelPrefix,
		FailureDomain: opts.FailureDomain,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.WriteFileAtomic(opts.OutputMap, res.Encoded, 0o644); err != nil {
		return nil, err
	}
	telemetry.Racks.Set(float64(len(res.RackIDs)))

	for i, rk := range clustered.Racks {
		logger.Info("rack",
			zap.Int32("id", res.RackIDs[i]),
			zap.Strings("hosts", rk))
	}
	logger.Info("wrote crushmap",
		zap.String("path", opts.OutputMap),
		zap.Int("racks", len(res.RackIDs)),
		zap.Int32("root", res.RootID))
	return res, nil
}

// gatherNeighbors reads the hostname and neighbor list of every related unit.
func gatherNeighbors(ctx context.Context, dir registry.Directory) (rack.NeighborSet, error) {
	units, err := relatedUnits(ctx, dir, dir.Self())
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	ns := make(rack.NeighborSet, len(units))
	for _, unit := range units {
		hostname, err := dir.Get(ctx, unit, KeyHostname)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %s", unit)
		}
		neighbors, err := dir.Get(ctx, unit, KeyNeighbors)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %s", unit)
		}
		ns[hostname] = rack.ParseNeighbors(neighbors)
	}
	return ns, nil
}
