// Package cmd implements the pgmon operator CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"pgmon/internal/config"
	"pgmon/internal/logger"
	"pgmon/internal/storage/pgpool"
	"pgmon/internal/storage/secretbox"
	"pgmon/internal/storage/warehouse"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// cfgFile is the path to the config file (set via --config flag)
	cfgFile string

	// cfg holds the loaded configuration
	cfg *config.Config

	// log is the logger instance
	log *logger.Logger

	// cmdStartTime tracks when command execution started
	cmdStartTime time.Time

	// cmdCtx is the command context carrying the logger
	cmdCtx context.Context
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pgmon",
	Short: "pgmon is the operator CLI for the pgmond monitoring daemon",
	Long: `pgmon manages the warehouse behind the pgmond daemon: schema
migrations, user accounts, and key material for the daemon configuration.`,
	// Allow flags before or after subcommand
	TraverseChildren: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}

		// Initialize logger
		var err error
		log, err = logger.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cmdCtx = logger.WithLogger(context.Background(), log)
		cmdStartTime = time.Now()

		log.Debug("command started", "command", cmd.Name(), "args", args)

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if log == nil {
			return nil
		}

		log.Debug("command completed",
			"command", cmd.Name(),
			"duration_ms", time.Since(cmdStartTime).Milliseconds(),
		)

		log.Close()
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().SetNormalizeFunc(wordSepNormalizeFunc)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgmon/config.yaml)")
	rootCmd.PersistentFlags().String("dsn", "", "warehouse connection string (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")

	// Bind flags to viper
	viper.BindPFlag("warehouse.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// wordSepNormalizeFunc accepts underscores in flag names for parity with the
// config keys, so --log_level and --log-level both work.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides
	if cmd.Flags().Changed("dsn") {
		cfg.Warehouse.DSN = viper.GetString("warehouse.dsn")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = viper.GetString("log.level")
	}

	return nil
}

// openStore connects to the warehouse for commands that write to it
// directly, without going through the pgmond API.
func openStore(ctx context.Context) (*warehouse.Store, error) {
	if cfg.Warehouse.DSN == "" {
		return nil, fmt.Errorf("warehouse.dsn (LOCAL_DB_DSN) is required")
	}

	box, err := secretbox.New(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("auth.encryption_key (ENCRYPTION_KEY) is required: %w", err)
	}

	return warehouse.New(ctx, cfg.Warehouse.DSN, pgpool.DefaultWarehouseConfig(), box, log)
}
