package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/config"
	"github.com/panelbridge/panelbridge-go/internal/httpapi"
	"github.com/panelbridge/panelbridge-go/internal/logs"
	"github.com/panelbridge/panelbridge-go/internal/observability"
	"github.com/panelbridge/panelbridge-go/internal/panel"
	"github.com/panelbridge/panelbridge-go/internal/session"
	"github.com/panelbridge/panelbridge-go/internal/status"
	"github.com/panelbridge/panelbridge-go/internal/storage"
	"github.com/panelbridge/panelbridge-go/internal/vault"
)

var (
	listen    string
	dataDir   string
	logLevel  string
	logToFile bool
	logDir    string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "panelbridge",
		Short:   "Bridge between chat frontends and game server panels",
		Version: version,
		RunE:    runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides LISTEN_ADDR)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (overrides DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Also write logs to a rotating file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Log directory (with --log-to-file)")

	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// keygenCmd prints a fresh vault key for ENCRYPTION_KEY.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new 32-byte encryption key in hex",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := make([]byte, vault.KeySize)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			cmd.Println(hex.EncodeToString(key))
			return nil
		},
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	if err := config.LoadEnv(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Command-line flags win over the environment.
	if listen != "" {
		cfg.ListenAddr = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logToFile {
		cfg.LogToFile = true
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}

	logger, err := logs.Setup(cfg.LogLevel, cfg.LogToFile, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting panelbridge",
		zap.String("version", version),
		zap.Bool("multi_tenant", cfg.MultiTenant),
		zap.String("data_dir", cfg.DataDir))

	store, err := storage.Open(cfg.DataDir, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	var v *vault.Vault
	if len(cfg.EncryptionKey) > 0 {
		if v, err = vault.New(cfg.EncryptionKey); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
	}

	metrics := observability.NewMetrics()
	client := panel.NewClient(cfg.RequestTimeout, logger.Named("panel"))
	sessions := session.NewManager(cfg, store, v, client, logger.Named("session"))
	sessions.SetMetrics(metrics)

	var publisher status.Publisher
	var snapshots *status.MemoryPublisher
	switch cfg.StatusPublisher {
	case config.PublisherWebhook:
		publisher = status.NewWebhookPublisher(cfg.RequestTimeout, logger.Named("webhook"))
	default:
		mem := status.NewMemoryPublisher()
		publisher = mem
		snapshots = mem
	}
	logger.Info("status publisher selected", zap.String("mode", cfg.StatusPublisher))

	updater := status.NewUpdater(cfg, store, sessions, publisher, metrics, logger.Named("status"))

	api := httpapi.NewServer(cfg, sessions, store, updater, publisher, snapshots, metrics, logger.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updater.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- api.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	updater.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown was not clean", zap.Error(err))
	}

	logger.Info("panelbridge stopped")
	return nil
}
