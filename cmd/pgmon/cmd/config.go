package cmd

import (
	"fmt"

	"pgmon/internal/config"

	"github.com/spf13/cobra"
)

// configCmd represents the config command group
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the pgmon configuration file",
}

var configFormat string

// configGenerateCmd writes a starter config file
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a starter config file with the default values",
	RunE:  runConfigGenerate,
}

// configPathCmd prints the config file in use
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file currently in use",
	Run: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			fmt.Println(cfgFile)
			return
		}
		if path := config.ConfigFileUsed(); path != "" {
			fmt.Println(path)
			return
		}
		fmt.Println("no config file in use (defaults and environment only)")
	},
}

func init() {
	configGenerateCmd.Flags().StringVar(&configFormat, "format", "yaml", "config format (yaml, toml, json)")
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigGenerate(cmd *cobra.Command, args []string) error {
	path, err := config.Generate(configFormat)
	if err != nil {
		return err
	}

	fmt.Printf("Created config at: %s\n", path)
	fmt.Println("Set auth.secret_key and auth.encryption_key before starting pgmond.")
	return nil
}
