package main

import (
	"context"
	"net/netip"
	"os"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/internal/hooks"
	"github.com/ryandielhenn/rackmap/pkg/probe"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Publish this host's name and address",
	Args:  cobra.NoArgs,
	RunE: runHook("register", func(ctx context.Context, env *unitEnv) error {
		hostname, err := os.Hostname()
		if err != nil {
			return errors.Wrap(err, "failed to read hostname")
		}
		addr, err := privateAddress(env)
		if err != nil {
			return err
		}
		return hooks.Register(ctx, env.dir, hostname, addr, env.logger)
	}),
}

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Publish the unit list once every agent has registered (controller)",
	Args:  cobra.NoArgs,
	RunE: runHook("announce", func(ctx context.Context, env *unitEnv) error {
		_, err := hooks.Announce(ctx, env.dir, env.cfg.NumUnits, env.logger)
		return err
	}),
}

var beginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Start network discovery and dump the current CRUSH map (controller)",
	Args:  cobra.NoArgs,
	RunE: runHook("begin", func(ctx context.Context, env *unitEnv) error {
		return hooks.Begin(ctx, env.dir, hooks.CommandDumper{Command: env.cfg.GetCrushmapCommand}, env.logger)
	}),
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find which related hosts share this host's switch and publish them",
	Args:  cobra.NoArgs,
	RunE: runHook("discover", func(ctx context.Context, env *unitEnv) error {
		if env.cfg.Controller == "" {
			return errors.New("controller is not configured")
		}
		engine := probe.NewEngine(probe.EngineOptions{
			Logger:        env.logger,
			Allow:         env.cfg.Interfaces,
			ReceiveWindow: env.cfg.ReceiveWindow,
			Ceiling:       env.cfg.Ceiling,
		})
		out, err := hooks.Discover(ctx, hooks.DiscoverOptions{
			Dir:           env.dir,
			Controller:    env.cfg.Controller,
			Engine:        engine,
			Logger:        env.logger,
			Retries:       env.cfg.Retries,
			RetryInterval: env.cfg.RetryInterval,
		})
		env.logger.Debug("discover finished", zap.Int("outcome", int(out)))
		return err
	}),
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Group hosts into racks and write a CRUSH map (controller)",
	Args:  cobra.NoArgs,
	RunE: runHook("create", func(ctx context.Context, env *unitEnv) error {
		_, err := hooks.Create(ctx, hooks.CreateOptions{
			Dir:           env.dir,
			Logger:        env.logger,
			CurrentMap:    env.cfg.CurrentMap,
			OutputMap:     env.cfg.OutputMap,
			LabelPrefix:   env.cfg.LabelPrefix,
			FailureDomain: env.cfg.FailureDomain,
		})
		return err
	}),
}

func init() {
	rootCmd.AddCommand(registerCmd, announceCmd, beginCmd, discoverCmd, createCmd)
}

// privateAddress is the configured address, or the first IPv4 address of the
// interfaces discovery will probe from.
func privateAddress(env *unitEnv) (netip.Addr, error) {
	if env.cfg.PrivateAddress != "" {
		return netip.ParseAddr(env.cfg.PrivateAddress)
	}
	ifaces, err := probe.SystemInterfaces()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, ifi := range ifaces {
		if len(env.cfg.Interfaces) > 0 && !slices.Contains(env.cfg.Interfaces, ifi.Name) {
			continue
		}
		if addr := ifi.IPv4(); addr.IsValid() {
			return addr, nil
		}
	}
	return netip.Addr{}, errors.New("no interface has an IPv4 address; set private-address")
}
