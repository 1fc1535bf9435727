package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
)

var estimateTokens int

var estimateCmd = &cobra.Command{
	Use:   "estimate [file|dir|-]...",
	Short: "Estimate embedding cost in USD and credits",
	Long: `Price embedding work without calling a provider. Pass --tokens to price a
raw token count, or documents to chunk them first and price every chunk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		provider, pricing, err := resolveModel(c, nil)
		if err != nil {
			return err
		}
		calc, err := newCalculator(c)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if cmd.Flags().Changed("tokens") {
			est, err := calc.Estimate(estimateTokens, pricing)
			if err != nil {
				return err
			}
			if runJSON {
				return writeJSON(out, est)
			}
			fmt.Fprintf(out, "Model: %s ($%s per 1M tokens)\n", pricing.Model, pricing.CostPerMillionTokens)
			fmt.Fprintf(out, "Tokens: %d\n", estimateTokens)
			fmt.Fprintf(out, "Cost: $%s\n", est.TotalCost.StringFixed(billing.CostScale))
			fmt.Fprintf(out, "Credits: %d\n", est.Credits)
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("pass documents to estimate or --tokens")
		}

		cc, err := chunkFlags(cmd, c)
		if err != nil {
			return err
		}
		counter := newCounter(c)
		defer counter.Close()
		docs, err := loadInputs(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		res, err := pipeline.Run(cmd.Context(), pipeline.Deps{Counter: counter, Calculator: calc}, docs, pipeline.Options{
			Provider:  provider,
			Pricing:   pricing,
			Encoding:  string(counter.Encoding()),
			Chunk:     cc,
			Workers:   c.Workers,
			BatchSize: c.EmbedBatchSize,
			DryRun:    true,
		})
		if err != nil {
			return err
		}
		return printResult(out, res, calc)
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
	estimateCmd.Flags().IntVar(&estimateTokens, "tokens", 0, "price a raw token count")
	addModelFlags(estimateCmd)
	addChunkFlags(estimateCmd)
}
