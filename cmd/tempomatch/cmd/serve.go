package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/tempomatch/pkg/api"
	"github.com/vjranagit/tempomatch/pkg/service"
	"github.com/vjranagit/tempomatch/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Opens the series store and serves the write, query and match
endpoints until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}

	logger.Info("starting tempomatch",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("storage_path", cfg.Storage.Path),
		zap.Int("compression_level", cfg.Storage.CompressionLevel))

	store, err := storage.NewStorage(cfg.ToStorageConfig(), logger.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []service.Option{
		service.WithLogger(logger.Named("service")),
		service.WithDefaults(cfg.Match.Window, cfg.Match.Asymmetry),
	}
	if cfg.Cache.Enabled {
		cache, err := service.NewResultCache(cfg.Cache.MaxEntries)
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, service.WithCache(cache))
	}

	svc := service.New(store, opts...)
	server := api.NewServer(cfg.Server.ListenAddr, cfg.Server.Timeout, svc, logger.Named("api"))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", cfg.Server.ListenAddr))
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
