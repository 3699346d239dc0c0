package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/vault"
)

func newKeygenCmd(opts *rootOptions) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random archive key",
		Long: `Print a new base64-encoded 32-byte key for a user's index archive, or
write it to --out with owner-only permissions. Keep the key: an archive
cannot be opened without it, and a session opened with a different key
starts from an empty index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := make([]byte, vault.KeySize)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			encoded := base64.StdEncoding.EncodeToString(key)

			if outFile == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), encoded)
				return err
			}
			if err := os.WriteFile(outFile, []byte(encoded+"\n"), 0o600); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			return w.Result(map[string]string{"path": outFile}, func() {
				w.Successf("Key written to %s", outFile)
			})
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the key to this file")
	return cmd
}
