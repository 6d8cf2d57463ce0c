package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Announce publishes the controller's unit list once numUnits agents have
// registered. It reports whether the list was published.
func Announce(ctx context.Context, dir registry.Directory, numUnits int, logger *zap.Logger) (bool, error) {
	if numUnits < 1 {
		return false, errors.Errorf("num-units must be at least 1, got %d", numUnits)
	}
	peers, err := dir.Peers(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to list units")
	}
	if len(peers) != numUnits {
		logger.Info("waiting for units",
			zap.Int("registered", len(peers)),
			zap.Int("expected", numUnits))
		msg := fmt.Sprintf("Waiting for units (%d of %d registered)", len(peers), numUnits)
		return false, dir.SetStatus(ctx, registry.StatusWaiting, msg)
	}

	if err := dir.Set(ctx, KeyRelatedUnits, strings.Join(peers, " ")); err != nil {
		return false, err
	}
	logger.Info("announced units", zap.Strings("units", peers))
	return true, dir.SetStatus(ctx, registry.StatusActive, msgReady)
}
