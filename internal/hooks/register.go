package hooks

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Register publishes the agent's hostname and the address peers probe it at.
func Register(ctx context.Context, dir registry.Directory, hostname string, addr netip.Addr, logger *zap.Logger) error {
	if hostname == "" {
		return errors.New("hostname is empty")
	}
	if !addr.Is4() {
		return errors.Errorf("private address %s is not IPv4", addr)
	}
	if err := dir.Set(ctx, KeyHostname, hostname); err != nil {
		return err
	}
	if err := dir.Set(ctx, KeyPrivateAddress, addr.String()); err != nil {
		return err
	}
	logger.Info("registered",
		zap.String("unit", dir.Self()),
		zap.String("hostname", hostname),
		zap.Stringer("address", addr))
	return nil
}
