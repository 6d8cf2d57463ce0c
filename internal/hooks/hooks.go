// Package hooks implements the lifecycle steps units run, in order:
// register (agents), announce and begin (controller), discover (agents) and
// create (controller). All coordination goes through a registry.Directory.
package hooks

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Directory keys.
const (
	KeyHostname       = "hostname"
	KeyPrivateAddress = "private-address"
	KeyRelatedUnits   = "related-units"
	KeyReady          = "ready"
	KeyFinished       = "finished"
	KeyNeighbors      = "neighbors"
)

const flagSet = "1"

// ErrNoUnits means the controller knows of no units to build a map from.
var ErrNoUnits = errors.New("no related units")

const (
	msgReady            = "Ready to begin network discovery"
	msgDiscoveryStarted = "Network discovery initiated"
	msgDiscoveryDone    = "Finished network discovery"
)

// lookup reads key from unit, reporting a missing key as ok == false.
func lookup(ctx context.Context, dir registry.Directory, unit, key string) (string, bool, error) {
	v, err := dir.Get(ctx, unit, key)
	if errors.Is(err, registry.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func isSet(ctx context.Context, dir registry.Directory, unit, key string) (bool, error) {
	v, _, err := lookup(ctx, dir, unit, key)
	return v == flagSet, err
}

// relatedUnits returns the unit list the controller published, or its peers
// when it has not published one yet.
func relatedUnits(ctx context.Context, dir registry.Directory, controller string) ([]string, error) {
	v, ok, err := lookup(ctx, dir, controller, KeyRelatedUnits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read related units")
	}
	if ok {
		return strings.Fields(v), nil
	}
	if controller != dir.Self() {
		return nil, errors.Wrapf(registry.ErrNotFound, "%s has not published %s", controller, KeyRelatedUnits)
	}
	return dir.Peers(ctx)
}
