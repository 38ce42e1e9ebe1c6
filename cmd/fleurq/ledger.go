package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleur-q/internal/provenance"
)

func (a *app) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or verify the provenance ledger",
	}
	cmd.AddCommand(a.ledgerInspectCmd(), a.ledgerVerifyCmd())
	return cmd
}

// ledgerPath picks the ledger from the first argument or the server config.
func (a *app) ledgerPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.Server.Ledger
}

func (a *app) ledgerInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [ledger.jsonl]",
		Short: "List every record of the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := provenance.OpenLedger(a.ledgerPath(args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range ledger.Records() {
				label := ""
				if n, err := r.Node(); err == nil {
					label = n.Label
				}
				fmt.Fprintf(out, "%s pk=%-5d %-22s %-26s %s\n",
					subtitleStyle.Render(fmt.Sprintf("#%-4d", r.Index)),
					r.PK, r.Type, label, valueStyle.Render(shortHash(r.Hash)))
			}
			return nil
		},
	}
}

func (a *app) ledgerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [ledger.jsonl]",
		Short: "Check hashes, links and signatures of the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.ledgerPath(args)
			ledger, err := provenance.OpenLedger(path)
			if err != nil {
				return err
			}
			if err := ledger.VerifyChain(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Verification FAILED"))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d records, head %s)\n",
				successStyle.Render("Ledger verification OK"), path, ledger.Len(),
				valueStyle.Render(shortHash(ledger.LastHash())))
			return nil
		},
	}
}

// shortHash abbreviates a hash for display. Tampered records may carry
// anything, so short or empty values pass through.
func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	if h == "" {
		return "-"
	}
	return h
}
