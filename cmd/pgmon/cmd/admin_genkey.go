package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

// genKeyCmd generates key material for the daemon configuration
var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generate key material for SECRET_KEY or ENCRYPTION_KEY",
	Long: `Generate a random 32-byte key encoded as base64.

Run it once for auth.secret_key (SECRET_KEY) and once for
auth.encryption_key (ENCRYPTION_KEY).`,
	RunE: runGenKey,
}

func init() {
	adminCmd.AddCommand(genKeyCmd)
}

func runGenKey(cmd *cobra.Command, args []string) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	fmt.Println(base64.StdEncoding.EncodeToString(buf))
	return nil
}
