package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"msgrelay/config"
	"msgrelay/discovery"
	"msgrelay/logging"
	"msgrelay/metrics"
	"msgrelay/network"
	"msgrelay/storage"
)

var (
	dataDir  string
	flagPort int
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "msgrelay",
		Short:        "Store-and-forward relay for end-to-end encrypted messages",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default $"+config.EnvDataDir+" or the OS config dir)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	root.Flags().IntVar(&flagPort, "port", 0, "listening port, overrides the port file and config")

	root.AddCommand(usersCmd(), purgeCmd(), discoverCmd())
	return root
}

// setup loads config and builds the process logger. The returned dir is the
// resolved data directory.
func setup() (*config.RelayConfig, string, zerolog.Logger, error) {
	cfg, cfgPath, err := config.LoadOrCreate(dataDir)
	if err != nil {
		return nil, "", zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.New(logging.Options{
		App:    "msgrelay",
		Level:  level,
		Format: cfg.LogFormat,
		Out:    os.Stderr,
	})
	return cfg, filepath.Dir(cfgPath), logger, nil
}

func openStore(cfg *config.RelayConfig, dir string) (*storage.Store, error) {
	store, err := storage.OpenPath(cfg.DatabasePath(dir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func runRelay(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, dir, logger, err := setup()
	if err != nil {
		return err
	}

	port, source, err := cfg.ResolvePort(dir, flagPort)
	if err != nil {
		logger.Error().Err(err).Msg("resolve listening port")
		return err
	}

	store, err := openStore(cfg, dir)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("database close error")
		}
	}()

	purged, err := store.PurgeIncompleteMessages()
	if err != nil {
		logger.Error().Err(err).Msg("purge incomplete messages")
		return err
	}
	if purged > 0 {
		logger.Warn().Int64("count", purged).Msg("removed incomplete messages left by an earlier run")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := network.NewHandler(store, network.HandlerOptions{
		Logger:         logging.Component(logger, "handler"),
		ReadBufferSize: cfg.ReadBufferSize,
	})
	server, err := network.Listen(cfg.ListenAddress(port), network.ServerOptions{
		Handler: handler,
		Logger:  logging.Component(logger, "server"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error().Err(err).Msg("server close error")
		}
	}()

	logger.Info().
		Str("relay_id", cfg.RelayID).
		Str("address", server.Addr().String()).
		Str("port_source", string(source)).
		Str("data_dir", dir).
		Msg("relay listening")

	if cfg.Advertise {
		broadcaster, err := discovery.StartBroadcaster(discovery.Config{
			RelayID:      cfg.RelayID,
			InstanceName: cfg.InstanceName,
			Port:         port,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("mdns advertisement unavailable")
		} else {
			defer broadcaster.Stop()
			logger.Info().Str("service", discovery.DefaultService).Msg("mdns advertisement running")
		}
	}

	if cfg.MetricsAddress != "" {
		metricsLogger := logging.Component(logger, "metrics")
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddress, metricsLogger); err != nil {
				metricsLogger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}
