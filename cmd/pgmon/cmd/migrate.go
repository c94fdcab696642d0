package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply warehouse migrations and bootstrap partitions",
	Long: `Apply the warehouse schema migrations, seed the default settings,
and create the monthly statistics partitions.

pgmond does the same on startup; this command exists for provisioning the
warehouse ahead of the first daemon start and for CI pipelines.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmdCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(cmdCtx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := store.EnsurePartitions(cmdCtx); err != nil {
		return fmt.Errorf("ensure partitions: %w", err)
	}

	fmt.Println("Warehouse schema is up to date.")
	return nil
}
