package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/ai"
	"github.com/KaramelBytes/docloom-embed/internal/billing"
	cfgpkg "github.com/KaramelBytes/docloom-embed/internal/config"
	"github.com/KaramelBytes/docloom-embed/internal/logging"
	"github.com/KaramelBytes/docloom-embed/internal/tokens"
)

var (
	cfgFile   string
	debug     bool
	logFormat string
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg    *cfgpkg.Global
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "docloom-embed",
	Short: "DocLoom Embed: count, chunk, price and embed documents",
	Long: `DocLoom Embed extracts text from documents, counts cl100k_base tokens,
splits the text into overlapping token-bounded chunks, prices the embedding
work in USD and credits, and stores the resulting vectors for search.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	err := rootCmd.Execute()
	m := tokens.Default()
	log.Debug().Int("builds", m.Builds()).Int("refs", m.Refs()).Msg("tearing down tokenizer")
	m.Teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.docloom/embed.yaml)")
	pf.BoolVar(&debug, "debug", false, "enable debug logging")
	pf.StringVar(&logFormat, "log-format", "", "log output format: console or json (overrides config)")
	pf.IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	pf.IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	pf.IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	pf.IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands that need config report cfgErr themselves.
		cfg, cfgErr = nil, err
		_ = logging.Setup("info", logFormat, os.Stderr)
		log.Warn().Err(err).Msg("failed to load config")
		return
	}
	cfg, cfgErr = c, nil

	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		_ = logging.Setup("info", "console", os.Stderr)
		log.Warn().Err(err).Msg("invalid logging config, using defaults")
	}

	if cfg.PricingCatalog != "" {
		m, err := billing.LoadCatalogFromJSON(cfg.PricingCatalog)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.PricingCatalog).Msg("pricing catalog not loaded")
		} else {
			applyCatalog(m, cfg.PricingMerge)
		}
	}
	if cfg.PricingAutoSync {
		url := cfg.PricingCatalogURL
		if url == "" {
			url = providerURL(cfg.EmbeddingProvider)
		}
		if url != "" {
			m, err := fetchCatalog(url)
			if err != nil {
				log.Warn().Err(err).Str("url", url).Msg("pricing auto-sync failed")
			} else {
				applyCatalog(m, cfg.PricingMerge)
			}
		}
	}
}

func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		if cfgErr != nil {
			return nil, fmt.Errorf("config: %w", cfgErr)
		}
		return nil, errors.New("config not loaded")
	}
	return cfg, nil
}

func applyCatalog(m map[string]billing.EmbeddingProviderPricing, merge bool) {
	if merge {
		billing.MergeCatalog(m)
	} else {
		billing.OverrideCatalog(m)
	}
}

// fetchCatalog downloads and validates a JSON pricing catalog.
func fetchCatalog(url string) (map[string]billing.EmbeddingProviderPricing, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("fetch: unexpected status %s: %s", resp.Status, string(b))
	}
	var m map[string]billing.EmbeddingProviderPricing
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := billing.ValidateCatalog(m); err != nil {
		return nil, err
	}
	return m, nil
}

// newCounter returns a token counter for the configured encoding. The
// default encoding shares the process-wide tokenizer.
func newCounter(c *cfgpkg.Global) *tokens.Counter {
	enc := tokens.Encoding(c.TokenizerEncoding)
	if enc == "" || enc == tokens.DefaultEncoding {
		return tokens.NewCounter(tokens.Default())
	}
	return tokens.NewCounter(tokens.NewManager(enc, nil))
}

func newCalculator(c *cfgpkg.Global) (*billing.Calculator, error) {
	v, err := c.CreditValue()
	if err != nil {
		return nil, err
	}
	return billing.NewCalculator(v)
}

func newEmbedder(c *cfgpkg.Global, provider string) (ai.Embedder, error) {
	if provider == "" {
		provider = c.EmbeddingProvider
	}
	return ai.NewEmbedder(provider, ai.EmbedderConfig{
		HTTPTimeout: time.Duration(c.HTTPTimeoutSec) * time.Second,
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		APIKey:      c.APIKey,
		Host:        c.OllamaHost,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
