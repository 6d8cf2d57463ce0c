package hooks

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Dumper saves the cluster's current CRUSH map where Create will read it.
type Dumper interface {
	Dump(ctx context.Context) error
}

// CommandDumper runs a shell-free command line such as
// "ceph osd getcrushmap -o /tmp/currentmap".
type CommandDumper struct {
	Command string
}

func (d CommandDumper) Dump(ctx context.Context) error {
	args := strings.Fields(d.Command)
	if len(args) == 0 {
		return errors.New("dump command is empty")
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Begin flags the controller ready so agents start discovery, then dumps the
// current map.
func Begin(ctx context.Context, dir registry.Directory, dumper Dumper, logger *zap.Logger) error {
	if err := dir.Set(ctx, KeyReady, flagSet); err != nil {
		return err
	}
	if err := dir.SetStatus(ctx, registry.StatusMaintenance, msgDiscoveryStarted); err != nil {
		return err
	}
	logger.Info("discovery initiated")

	if err := dumper.Dump(ctx); err != nil {
		if serr := dir.SetStatus(ctx, registry.StatusBlocked, "Failed to dump the current crushmap: "+err.Error()); serr != nil {
			logger.Warn("failed to publish status", zap.Error(serr))
		}
		return errors.Wrap(err, "failed to dump current map")
	}
	return nil
}
