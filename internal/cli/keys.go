package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"narci/internal/security"
)

func keygenCmd() *cobra.Command {
	var dir string
	c := &cobra.Command{
		Use:   "keygen <name>",
		Short: "Generate an ed25519 key pair in Nix format (name:base64)",
		Long: "Writes <name>.sec and <name>.pub. The secret key can sign ledger blocks " +
			"(signing_key) and the public key goes into ledger_keys or cache.public_keys.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			secretPath := filepath.Join(dir, name+".sec")
			publicPath := filepath.Join(dir, name+".pub")
			if _, err := os.Stat(secretPath); err == nil {
				return fmt.Errorf("%s already exists", secretPath)
			}

			sk, pk, err := security.GenerateKeyPair(name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			if err := security.SaveKeyPair(sk, pk, secretPath, publicPath); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "secret key: %s\n", secretPath)
			fmt.Fprintf(out, "public key: %s\n", publicPath)
			fmt.Fprintln(out, pk.String())
			return nil
		},
	}
	c.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	return c
}
