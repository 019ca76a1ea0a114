package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/internal/database"
	"github.com/MarkoPoloResearchLab/railbook/internal/oplog"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagDatabaseURL    = "database-url"
	flagStore          = "store"
	flagVerbose        = "verbose"
	envPrefix          = "RAILBOOK"
	defaultDatabaseURL = "sqlite:///tmp/railbook.db"
)

type cliConfig struct {
	Store   database.StoreOptions
	Verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "railbookctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &cliConfig{}
	cmd := &cobra.Command{
		Use:           "railbookctl",
		Short:         "Operator commands for the railbook ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "postgres://, mysql://, sqlite:// url or a sqlite file path")
	cmd.PersistentFlags().String(flagStore, database.BackendGorm, "store backend: gorm or pgx (pgx requires postgres)")
	cmd.PersistentFlags().Bool(flagVerbose, false, "log every ledger operation to stderr")

	cmd.AddCommand(newMigrateCommand(cfg), newAccountCommand(cfg), newRecordCommand(cfg))
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *cliConfig) error {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range []string{flagDatabaseURL, flagStore, flagVerbose} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.Store = database.StoreOptions{
		Backend:     strings.TrimSpace(v.GetString(flagStore)),
		DatabaseURL: strings.TrimSpace(v.GetString(flagDatabaseURL)),
	}
	cfg.Verbose = v.GetBool(flagVerbose)
	if cfg.Store.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	return nil
}

// withService opens the configured store for the duration of fn.
func withService(ctx context.Context, cfg *cliConfig, fn func(service *ledger.Service) error) error {
	logger := zap.NewNop()
	if cfg.Verbose {
		development, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("logger init: %w", err)
		}
		logger = development
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := database.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = closeStore() }()

	clock := func() time.Time { return time.Now().UTC() }
	service, err := ledger.NewService(store, clock, ledger.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	return fn(service)
}

func newMigrateCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := cfg.Store
			options.AutoMigrate = true
			_, closeStore, err := database.OpenStore(cmd.Context(), options)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", defaultIfEmpty(options.Backend, database.BackendGorm))
			return nil
		},
	}
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
