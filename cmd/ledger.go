package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	"github.com/KaramelBytes/docloom-embed/internal/ledger"
)

var ledgerRun string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect recorded embedding charges",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show charges for a run, or totals per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		led, err := ledger.Open(c.LedgerPath)
		if err != nil {
			return err
		}
		defer led.Close()
		out := cmd.OutOrStdout()

		if ledgerRun != "" {
			entries, err := led.Entries(cmd.Context(), ledgerRun)
			if err != nil {
				return err
			}
			if runJSON {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "(no charges for run %s)\n", ledgerRun)
				return nil
			}
			for _, e := range entries {
				tag := ""
				if e.DryRun {
					tag = " [dry run]"
				}
				fmt.Fprintf(out, "- %s: %s, %d tokens, %d chunks, $%s, %d credits%s\n",
					e.DocName, e.Model, e.Tokens, e.Chunks, e.Cost.TotalCost.StringFixed(billing.CostScale), e.Cost.Credits, tag)
			}
			return nil
		}

		totals, err := led.Totals(cmd.Context())
		if err != nil {
			return err
		}
		if runJSON {
			return writeJSON(out, totals)
		}
		if len(totals) == 0 {
			fmt.Fprintln(out, "(no charges)")
			return nil
		}
		for _, t := range totals {
			fmt.Fprintf(out, "- %s: %d documents, %d tokens, $%s, %d credits\n",
				t.Model, t.Documents, t.Tokens, t.Cost.StringFixed(billing.CostScale), t.Credits)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerShowCmd.Flags().StringVar(&ledgerRun, "run", "", "show the per-document charges of one run")
	ledgerShowCmd.Flags().BoolVar(&runJSON, "json", false, "print as JSON")
}
