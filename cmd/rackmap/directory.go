package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/internal/config"
	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// openDirectory connects to the configured backend and registers the unit.
func openDirectory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (registry.Directory, func(), error) {
	switch cfg.Directory {
	case "etcd":
		logger.Debug("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		cli, err := registry.NewClient(cfg.EtcdEndpoints, cfg.EtcdDialTimeout)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create etcd client")
		}
		dir, err := registry.NewEtcd(registry.EtcdOptions{
			Client:   cli,
			Prefix:   cfg.EtcdPrefix,
			Unit:     cfg.Unit,
			LeaseTTL: cfg.EtcdLeaseTTL,
			Logger:   logger,
		})
		if err != nil {
			cli.Close()
			return nil, nil, err
		}
		if err := dir.Join(ctx); err != nil {
			cli.Close()
			return nil, nil, err
		}
		return dir, func() { _ = cli.Close() }, nil

	case "file":
		dir, err := registry.OpenFile(cfg.DirectoryPath, cfg.Unit)
		if err != nil {
			return nil, nil, err
		}
		return dir, func() {}, nil
	}
	return nil, nil, errors.Errorf("unknown directory %q", cfg.Directory)
}
