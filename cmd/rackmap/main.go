package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/rackmap/internal/config"
	"github.com/ryandielhenn/rackmap/internal/telemetry"
	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

var rootCmd = &cobra.Command{
	Version: version,

	Use:   "rackmap",
	Short: "Discover which hosts share a switch and build a rack-aware CRUSH map",
	Long: `rackmap runs on every storage host. Agents probe each other with ARP to
learn who shares their layer-2 segment; the controller groups hosts into racks
and writes a CRUSH map that spreads replicas across them.`,

	SilenceUsage: true,
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	configFlags := config.Flags()
	rootCmd.PersistentFlags().AddFlagSet(configFlags)
	_ = config.Bind(viper.GetViper(), configFlags)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		os.Exit(1)
	}
}

func getLogger(format string) (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(logConfig)
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(logConfig)
	}
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

// unitEnv is what every hook subcommand runs with.
type unitEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	dir    registry.Directory

	closeDir func()
}

func setup(ctx context.Context, hook string) (*unitEnv, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logLevel, logger := getLogger(cfg.LogFormat)
	if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		logger.Warn("invalid log level specified, using INFO instead", zap.String("level", cfg.LogLevel))
	} else {
		logLevel.SetLevel(parsed)
	}
	logger = logger.With(zap.String("unit", cfg.Unit), zap.String("hook", hook))
	logger.Debug("parsed config", zap.Any("config", cfg))

	telemetry.SetBuildInfo(version, gitSHA)

	dir, closeDir, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &unitEnv{cfg: cfg, logger: logger, dir: dir, closeDir: closeDir}, nil
}

func (e *unitEnv) finish() {
	if e.cfg.MetricsTextfile != "" {
		if err := telemetry.WriteTextfile(e.cfg.MetricsTextfile); err != nil {
			e.logger.Warn("failed to write metrics", zap.Error(err))
		}
	}
	e.closeDir()
	_ = e.logger.Sync()
}

// runHook wires setup, the hook body and teardown for one subcommand.
func runHook(hook string, run func(ctx context.Context, env *unitEnv) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := setup(ctx, hook)
		if err != nil {
			return err
		}
		defer env.finish()

		if err := run(ctx, env); err != nil {
			env.logger.Error("hook failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
