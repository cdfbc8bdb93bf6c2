package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"narci/internal/ledger"
	"narci/internal/security"
)

func ledgerCmd(a *app) *cobra.Command {
	var path string
	c := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the job ledger",
	}
	c.PersistentFlags().StringVar(&path, "file", "", "ledger file (overrides config)")

	open := func() (*ledger.Ledger, error) {
		p := a.cfg.Ledger
		if path != "" {
			p = path
		}
		return ledger.ReadLedger(p)
	}

	c.AddCommand(ledgerInspectCmd(open), ledgerVerifyCmd(a, open))
	return c
}

func ledgerInspectCmd(open func() (*ledger.Ledger, error)) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "inspect",
		Short: "List ledger blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := open()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, b := range l.Blocks() {
					if err := enc.Encode(b); err != nil {
						return err
					}
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tRUN\tJOB\tSTATUS\tSIGNED\tHASH")
			for _, b := range l.Blocks() {
				signed := "-"
				if b.Signature != "" {
					signed = b.PubKey
					if k, err := security.ParsePublicKey(b.PubKey); err == nil {
						signed = k.Name
					}
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", b.Index, shortID(b.RunID), b.Job, b.Status, signed, short(b.Hash))
			}
			return tw.Flush()
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print blocks as JSON lines")
	return c
}

func ledgerVerifyCmd(a *app, open func() (*ledger.Ledger, error)) *cobra.Command {
	var (
		keyFiles []string
		logs     bool
	)
	c := &cobra.Command{
		Use:   "verify",
		Short: "Check hashes, links and signatures of every block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trusted, err := a.cfg.LedgerTrustedKeys()
			if err != nil {
				return err
			}
			for _, f := range keyFiles {
				pk, err := security.LoadPublicKey(f)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				trusted = append(trusted, pk)
			}

			l, err := open()
			if err != nil {
				return err
			}
			if err := l.VerifyChain(trusted...); err != nil {
				return fmt.Errorf("ledger verification failed: %w", err)
			}
			if logs {
				if err := l.VerifyLogs(); err != nil {
					return fmt.Errorf("log verification failed: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger OK: %d blocks\n", l.NextIndex())
			return nil
		},
	}
	c.Flags().StringArrayVar(&keyFiles, "key-file", nil, "public key file that must have signed every block (repeatable)")
	c.Flags().BoolVar(&logs, "logs", false, "also re-hash the job logs each block points to")
	return c
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
