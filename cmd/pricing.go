package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	cfgpkg "github.com/KaramelBytes/docloom-embed/internal/config"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect or update the embedding pricing catalog",
	Example: `  docloom-embed pricing show
  docloom-embed pricing sync --file ./pricing.json --merge
  docloom-embed pricing fetch --provider ollama
  docloom-embed pricing fetch --url https://example.com/pricing.json --output pricing.json`,
}

var pricingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current pricing catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := billing.Catalog()
		out := cmd.OutOrStdout()
		for _, k := range billing.Models() {
			p := cat[k]
			fmt.Fprintf(out, "%-36s dims=%-5d $%s / 1M tokens\n", k, p.Dimensions, p.CostPerMillionTokens.String())
		}
		return nil
	},
}

var (
	syncPath  string
	syncMerge bool
	syncSave  bool
)

var pricingSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load pricing from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncPath == "" {
			return fmt.Errorf("--file is required")
		}
		m, err := billing.LoadCatalogFromJSON(syncPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		applyCatalog(m, syncMerge)
		if syncMerge {
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d pricing entries from file\n", len(m))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Replaced pricing catalog with %d entries from file\n", len(m))
		}
		if !syncSave {
			return nil
		}
		c, err := requireConfig()
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(syncPath)
		if err != nil {
			return err
		}
		c.PricingCatalog, c.PricingMerge = abs, syncMerge
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved pricing_catalog to config")
		return nil
	},
}

// providerURL returns a catalog URL for a known provider, from
// DOCLOOM_<PROVIDER>_PRICING_URL. Empty when unset.
func providerURL(name string) string {
	switch name {
	case "openrouter":
		return os.Getenv("DOCLOOM_OPENROUTER_PRICING_URL")
	case "openai":
		return os.Getenv("DOCLOOM_OPENAI_PRICING_URL")
	default:
		return ""
	}
}

var (
	fetchURL      string
	fetchOutput   string
	fetchMerge    bool
	fetchProvider string
)

var pricingFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch pricing JSON from a URL (or a built-in provider preset) and apply it",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		url := fetchURL
		if url == "" && fetchProvider != "" {
			url = providerURL(fetchProvider)
		}
		var m map[string]billing.EmbeddingProviderPricing
		switch {
		case url != "":
			fetched, err := fetchCatalog(url)
			if err != nil {
				return err
			}
			m = fetched
			applyCatalog(m, fetchMerge)
			fmt.Fprintf(out, "Applied %d pricing entries from %s\n", len(m), url)
		case fetchProvider != "":
			preset, ok := billing.PresetCatalog(fetchProvider)
			if !ok {
				return fmt.Errorf("no built-in preset for provider %q", fetchProvider)
			}
			m = preset
			applyCatalog(m, fetchMerge)
			fmt.Fprintf(out, "Applied built-in '%s' preset (%d entries)\n", fetchProvider, len(m))
		default:
			return fmt.Errorf("--url is required (or specify --provider with a known preset)")
		}
		if fetchOutput != "" {
			data, err := utils.PrettyJSON(m)
			if err != nil {
				return err
			}
			if err := utils.SafeWriteFile(fetchOutput, data); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
			fmt.Fprintf(out, "Saved catalog to %s\n", fetchOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pricingCmd)
	pricingCmd.AddCommand(pricingShowCmd)
	pricingCmd.AddCommand(pricingSyncCmd)
	pricingCmd.AddCommand(pricingFetchCmd)

	pricingSyncCmd.Flags().StringVar(&syncPath, "file", "", "path to JSON pricing file")
	pricingSyncCmd.Flags().BoolVar(&syncMerge, "merge", false, "merge into existing catalog instead of replacing")
	pricingSyncCmd.Flags().BoolVar(&syncSave, "save", false, "load this file on every run by saving it as pricing_catalog")

	pricingFetchCmd.Flags().StringVar(&fetchURL, "url", "", "URL to JSON pricing file")
	pricingFetchCmd.Flags().StringVar(&fetchOutput, "output", "", "optional path to save the fetched JSON")
	pricingFetchCmd.Flags().BoolVar(&fetchMerge, "merge", false, "merge into existing catalog instead of replacing")
	pricingFetchCmd.Flags().StringVar(&fetchProvider, "provider", "", "provider preset (openrouter, openai, ollama) when --url is not set")
}
