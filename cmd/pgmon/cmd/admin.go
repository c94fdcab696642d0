package cmd

import (
	"github.com/spf13/cobra"
)

// adminCmd represents the admin command group
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative commands for the pgmon warehouse",
	Long: `Administrative commands that operate on the warehouse directly,
without going through the pgmond HTTP API.

Useful for bootstrapping (the first admin account, key material) and for
recovery when the API is unreachable.`,
}

func init() {
	rootCmd.AddCommand(adminCmd)
}
