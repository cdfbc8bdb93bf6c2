package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"narci/internal/narinfo"
	"narci/internal/security"
)

func narinfoCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "narinfo",
		Short: "Parse, fetch and verify Nix narinfo files",
	}
	c.AddCommand(
		narinfoParseCmd(),
		narinfoFetchCmd(a),
		narinfoClosureCmd(a),
		narinfoVerifyCmd(a),
	)
	return c
}

func narinfoParseCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "parse <file|->",
		Short: "Parse a narinfo file and print it in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ni, err := readNarInfo(cmd, args[0])
			if err != nil {
				return err
			}
			return printNarInfo(cmd.OutOrStdout(), ni, asJSON)
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return c
}

func narinfoFetchCmd(a *app) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "fetch <hash|store-path>",
		Short: "Fetch a narinfo from the configured binary cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeCache, err := newCacheClient(a.cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			ni, err := client.NarInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printNarInfo(cmd.OutOrStdout(), ni, asJSON)
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return c
}

func narinfoClosureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "closure <hash|store-path>",
		Short: "List every store path reachable from a path and the download size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeCache, err := newCacheClient(a.cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			cl, err := client.Closure(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ni := range cl.Sorted() {
				fmt.Fprintf(out, "%s\t%d\n", ni.StorePath, ni.NarSize)
			}
			fmt.Fprintf(out, "%d paths, %d bytes unpacked, %d bytes to download\n",
				len(cl.Paths), cl.NarSize(), cl.FileSize())
			return nil
		},
	}
}

func narinfoVerifyCmd(a *app) *cobra.Command {
	var keys []string
	c := &cobra.Command{
		Use:   "verify <file|->",
		Short: "Check a narinfo's signatures against trusted public keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trusted, err := a.cfg.TrustedKeys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				pk, err := security.ParsePublicKey(k)
				if err != nil {
					return fmt.Errorf("--key %q: %w", k, err)
				}
				trusted = append(trusted, pk)
			}
			if len(trusted) == 0 {
				return fmt.Errorf("no trusted keys: set cache.public_keys or pass --key")
			}

			ni, err := readNarInfo(cmd, args[0])
			if err != nil {
				return err
			}
			name, ok := ni.VerifiedBy(trusted)
			if !ok {
				return fmt.Errorf("%s: no valid signature from a trusted key", ni.StorePath)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: signed by %s\n", ni.StorePath, name)
			return nil
		},
	}
	c.Flags().StringArrayVarP(&keys, "key", "k", nil, "trusted public key name:base64 (repeatable)")
	return c
}

func readNarInfo(cmd *cobra.Command, arg string) (*narinfo.NarInfo, error) {
	var r io.Reader = cmd.InOrStdin()
	if arg != "-" {
		f, err := os.Open(arg)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	ni, err := narinfo.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", arg, err)
	}
	return ni, nil
}

func printNarInfo(w io.Writer, ni *narinfo.NarInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ni)
	}
	_, err := ni.WriteTo(w)
	return err
}
