package cmd

import (
	"fmt"

	"pgmon/internal/version"

	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of pgmon.`,
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("pgmon version %s\n", info.String())
		fmt.Println(info.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
