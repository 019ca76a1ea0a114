package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/internal/database"
	"github.com/MarkoPoloResearchLab/railbook/internal/httpapi"
	"github.com/MarkoPoloResearchLab/railbook/internal/oplog"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagDatabaseURL     = "database-url"
	flagStore           = "store"
	flagAutoMigrate     = "auto-migrate"
	flagListenAddr      = "listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	flagRequestTimeout  = "request-timeout"
	flagShutdownTimeout = "shutdown-timeout"
	envPrefix           = "RAILBOOK"
	defaultDatabaseURL  = "sqlite:///tmp/railbook.db"
	defaultListenAddr   = ":8080"
)

type runtimeConfig struct {
	Store database.StoreOptions
	HTTP  httpapi.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "railbookd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "railbookd",
		Short:         "Railway booking ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "postgres://, mysql://, sqlite:// url or a sqlite file path")
	cmd.Flags().String(flagStore, database.BackendGorm, "store backend: gorm or pgx (pgx requires postgres)")
	cmd.Flags().Bool(flagAutoMigrate, true, "create or update the schema on start")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, 10*time.Second, "per-request deadline")
	cmd.Flags().Duration(flagShutdownTimeout, 5*time.Second, "graceful shutdown deadline")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagDatabaseURL, flagStore, flagAutoMigrate, flagListenAddr, flagAllowedOrigins, flagRequestTimeout, flagShutdownTimeout} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.Store = database.StoreOptions{
		Backend:     strings.TrimSpace(v.GetString(flagStore)),
		DatabaseURL: strings.TrimSpace(v.GetString(flagDatabaseURL)),
		AutoMigrate: v.GetBool(flagAutoMigrate),
	}
	if cfg.Store.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	cfg.HTTP = httpapi.Config{
		ListenAddr:      strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:  httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		RequestTimeout:  v.GetDuration(flagRequestTimeout),
		ShutdownTimeout: v.GetDuration(flagShutdownTimeout),
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := database.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = closeStore() }()
	logger.Info("store ready", zap.String("backend", cfg.Store.Backend), zap.Bool("auto_migrate", cfg.Store.AutoMigrate))

	clock := func() time.Time { return time.Now().UTC() }
	service, err := ledger.NewService(store, clock, ledger.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	return httpapi.Run(ctx, cfg.HTTP, service, logger)
}
