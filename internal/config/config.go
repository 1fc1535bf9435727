package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	"github.com/KaramelBytes/docloom-embed/internal/chunking"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

// Global configuration structure.
type Global struct {
	APIKey            string `mapstructure:"api_key" yaml:"api_key"`
	EmbeddingProvider string `mapstructure:"embedding_provider" yaml:"embedding_provider"`
	EmbeddingModel    string `mapstructure:"embedding_model" yaml:"embedding_model"`
	TokenizerEncoding string `mapstructure:"tokenizer_encoding" yaml:"tokenizer_encoding"`

	// Chunking
	ChunkMaxTokens     int `mapstructure:"chunk_max_tokens" yaml:"chunk_max_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" yaml:"chunk_overlap_tokens"`
	ChunkMinTokens     int `mapstructure:"chunk_min_tokens" yaml:"chunk_min_tokens"`

	// Billing. CreditValueUSD is a decimal string so it never passes through
	// a float.
	CreditValueUSD    string `mapstructure:"credit_value_usd" yaml:"credit_value_usd"`
	PricingCatalog    string `mapstructure:"pricing_catalog" yaml:"pricing_catalog"`
	PricingCatalogURL string `mapstructure:"pricing_catalog_url" yaml:"pricing_catalog_url"`
	PricingAutoSync   bool   `mapstructure:"pricing_auto_sync" yaml:"pricing_auto_sync"`
	PricingMerge      bool   `mapstructure:"pricing_merge" yaml:"pricing_merge"`

	// Storage
	IndexDir    string `mapstructure:"index_dir" yaml:"index_dir"`
	VectorStore string `mapstructure:"vector_store" yaml:"vector_store"`
	LedgerPath  string `mapstructure:"ledger_path" yaml:"ledger_path"`
	ProjectsDir string `mapstructure:"projects_dir" yaml:"projects_dir"`

	// Pipeline and retrieval
	Workers           int      `mapstructure:"workers" yaml:"workers"`
	EmbedBatchSize    int      `mapstructure:"embed_batch_size" yaml:"embed_batch_size"`
	BudgetCredits     int64    `mapstructure:"budget_credits" yaml:"budget_credits"`
	RetrievalTopK     int      `mapstructure:"retrieval_top_k" yaml:"retrieval_top_k"`
	RetrievalMinScore float64  `mapstructure:"retrieval_min_score" yaml:"retrieval_min_score"`
	RetrievalInclude  []string `mapstructure:"retrieval_include" yaml:"retrieval_include"`
	RetrievalExclude  []string `mapstructure:"retrieval_exclude" yaml:"retrieval_exclude"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost string `mapstructure:"ollama_host" yaml:"ollama_host"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// ChunkConfig returns the chunking settings as a validated domain value.
func (c *Global) ChunkConfig() (chunking.Config, error) {
	cc := chunking.Config{
		MaxTokens:     c.ChunkMaxTokens,
		OverlapTokens: c.ChunkOverlapTokens,
		MinTokens:     c.ChunkMinTokens,
	}
	if err := cc.Validate(); err != nil {
		return chunking.Config{}, fmt.Errorf("chunk settings: %w", err)
	}
	return cc, nil
}

// CreditValue parses credit_value_usd, falling back to the billing default
// when unset.
func (c *Global) CreditValue() (decimal.Decimal, error) {
	if strings.TrimSpace(c.CreditValueUSD) == "" {
		return billing.DefaultCreditValueUSD, nil
	}
	d, err := decimal.NewFromString(c.CreditValueUSD)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit_value_usd: %w", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("credit_value_usd must be > 0, got %s", d)
	}
	return d, nil
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".docloom"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.docloom/embed.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := homeDir()
		if err != nil {
			return err
		}
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "embed.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. Flags are applied by the caller.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCLOOM")
	v.AutomaticEnv()

	v.SetDefault("api_key", "")
	v.SetDefault("embedding_provider", "openrouter")
	v.SetDefault("embedding_model", "openai/text-embedding-3-small")
	v.SetDefault("tokenizer_encoding", "cl100k_base")
	v.SetDefault("chunk_max_tokens", chunking.DefaultMaxTokens)
	v.SetDefault("chunk_overlap_tokens", chunking.DefaultOverlapTokens)
	v.SetDefault("chunk_min_tokens", chunking.DefaultMinTokens)
	v.SetDefault("credit_value_usd", billing.DefaultCreditValueUSD.String())
	v.SetDefault("pricing_catalog", "")
	v.SetDefault("pricing_catalog_url", "")
	v.SetDefault("pricing_auto_sync", false)
	v.SetDefault("pricing_merge", true)
	v.SetDefault("index_dir", "")
	v.SetDefault("vector_store", "json")
	v.SetDefault("ledger_path", "")
	v.SetDefault("projects_dir", "")
	v.SetDefault("workers", 4)
	v.SetDefault("embed_batch_size", 64)
	v.SetDefault("budget_credits", 0)
	v.SetDefault("retrieval_top_k", 6)
	v.SetDefault("retrieval_min_score", 0.0)
	v.SetDefault("retrieval_include", []string{})
	v.SetDefault("retrieval_exclude", []string{})
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	base, err := homeDir()
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(base)
		v.SetConfigName("embed")
		v.SetConfigType("yaml")
	}
	// A missing file is fine; a malformed one is not.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(base, "index")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(base, "ledger.db")
	}
	if c.ProjectsDir == "" {
		c.ProjectsDir = filepath.Join(base, "projects")
	}
	return &c, nil
}

// Set assigns a single key from its string form, validating it the way the
// loader would.
func (c *Global) Set(key, val string) error {
	setInt := func(dst *int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid non-negative int for %s: %q", key, val)
		}
		*dst = i
		return nil
	}
	var err error
	switch key {
	case "api_key":
		c.APIKey = val
	case "embedding_provider":
		switch strings.ToLower(val) {
		case "openrouter":
			c.EmbeddingProvider = "openrouter"
		case "ollama", "local":
			c.EmbeddingProvider = "ollama"
		default:
			return fmt.Errorf("invalid embedding_provider: %s (use openrouter or ollama)", val)
		}
	case "embedding_model":
		c.EmbeddingModel = val
	case "tokenizer_encoding":
		c.TokenizerEncoding = val
	case "chunk_max_tokens":
		err = setInt(&c.ChunkMaxTokens)
	case "chunk_overlap_tokens":
		err = setInt(&c.ChunkOverlapTokens)
	case "chunk_min_tokens":
		err = setInt(&c.ChunkMinTokens)
	case "credit_value_usd":
		prev := c.CreditValueUSD
		c.CreditValueUSD = val
		if _, err = c.CreditValue(); err != nil {
			c.CreditValueUSD = prev
		}
	case "pricing_catalog":
		c.PricingCatalog = val
	case "pricing_catalog_url":
		c.PricingCatalogURL = val
	case "index_dir":
		c.IndexDir = val
	case "vector_store":
		switch val {
		case "json", "chromem":
			c.VectorStore = val
		default:
			return fmt.Errorf("invalid vector_store: %s (use json or chromem)", val)
		}
	case "ledger_path":
		c.LedgerPath = val
	case "projects_dir":
		c.ProjectsDir = val
	case "workers":
		err = setInt(&c.Workers)
	case "embed_batch_size":
		err = setInt(&c.EmbedBatchSize)
	case "budget_credits":
		i, perr := strconv.ParseInt(val, 10, 64)
		if perr != nil || i < 0 {
			return fmt.Errorf("invalid non-negative int for %s: %q", key, val)
		}
		c.BudgetCredits = i
	case "retrieval_top_k":
		err = setInt(&c.RetrievalTopK)
	case "retrieval_min_score":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 {
			return fmt.Errorf("invalid float for retrieval_min_score: %v", val)
		}
		c.RetrievalMinScore = f
	case "ollama_host":
		c.OllamaHost = val
	case "log_level":
		c.LogLevel = val
	case "log_format":
		c.LogFormat = val
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}
