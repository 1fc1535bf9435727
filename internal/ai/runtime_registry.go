package ai

import (
	"fmt"
	"sort"
	"time"
)

// EmbedderFactory builds an Embedder from the generic config below.
type EmbedderFactory func(EmbedderConfig) Embedder

// EmbedderConfig carries common knobs used by providers.
type EmbedderConfig struct {
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OpenRouter
	APIKey  string
	BaseURL string
	// Ollama
	Host string
}

var registry = map[string]EmbedderFactory{}

// RegisterEmbedder registers a provider name with its factory.
func RegisterEmbedder(name string, f EmbedderFactory) { registry[name] = f }

// NewEmbedder creates an Embedder for the given provider.
func NewEmbedder(name string, cfg EmbedderConfig) (Embedder, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (known: %v)", name, Providers())
	}
	return f(cfg), nil
}

// Providers lists registered provider names.
func Providers() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterEmbedder(ProviderOpenRouter, func(c EmbedderConfig) Embedder {
		return NewClientWithBaseURL(c.APIKey, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay, c.BaseURL)
	})
	ollama := func(c EmbedderConfig) Embedder {
		return NewOllamaEmbClient(c.Host, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	}
	RegisterEmbedder(ProviderOllama, ollama)
	RegisterEmbedder(ProviderLocal, ollama)
}
