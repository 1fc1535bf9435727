package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	cfgpkg "github.com/KaramelBytes/docloom-embed/internal/config"
	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
	"github.com/KaramelBytes/docloom-embed/internal/project"
)

var (
	runProvider string
	runModel    string
	runTier     string
	runJSON     bool
)

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runProvider, "provider", "", "embedding provider: openrouter|ollama (overrides config)")
	cmd.Flags().StringVar(&runModel, "model", "", "embedding model (overrides config)")
	cmd.Flags().StringVar(&runTier, "tier", "", "pick a recommended model for the provider: cheap|quality")
	cmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
}

// resolveModel picks provider and pricing with precedence flags, then
// project settings, then config.
func resolveModel(c *cfgpkg.Global, s *project.Settings) (string, billing.EmbeddingProviderPricing, error) {
	provider, model := c.EmbeddingProvider, c.EmbeddingModel
	if s != nil {
		if s.EmbeddingProvider != "" {
			provider = s.EmbeddingProvider
		}
		if s.EmbeddingModel != "" {
			model = s.EmbeddingModel
		}
	}
	if runProvider != "" {
		provider = runProvider
	}
	if runTier != "" {
		m, ok := billing.RecommendModel(provider, runTier)
		if !ok {
			return "", billing.EmbeddingProviderPricing{}, fmt.Errorf("no %s model known for provider %s", runTier, provider)
		}
		model = m
	}
	if runModel != "" {
		model = runModel
	}
	pricing, err := billing.MustPricing(model)
	if err != nil {
		return "", billing.EmbeddingProviderPricing{}, err
	}
	return provider, pricing, nil
}

func printResult(w io.Writer, res *pipeline.Result, calc *billing.Calculator) error {
	if runJSON {
		return writeJSON(w, res)
	}
	for _, d := range res.Docs {
		fmt.Fprintf(w, "- %s: %d chunks, %d tokens", d.DocName, d.Chunks, d.Tokens)
		if d.Reused > 0 {
			fmt.Fprintf(w, " (%d reused)", d.Reused)
		}
		fmt.Fprintf(w, ", $%s, %d credits\n", d.Charged.TotalCost.StringFixed(billing.CostScale), d.Charged.Credits)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "- %s: skipped\n", s)
	}
	fmt.Fprintf(w, "Model: %s\n", res.Model)
	fmt.Fprintf(w, "Total: %d documents, %d chunks, %d tokens\n", len(res.Docs), res.Chunks, res.Tokens)
	fmt.Fprintf(w, "Full estimate: $%s (%d credits)\n", res.Estimate.TotalCost.StringFixed(billing.CostScale), res.Estimate.Credits)
	fmt.Fprintf(w, "To charge: $%s (%d credits, 1 credit = $%s)\n", res.Charged.TotalCost.StringFixed(billing.CostScale), res.Charged.Credits, calc.CreditValue())
	if res.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was embedded")
	}
	return nil
}
