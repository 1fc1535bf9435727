package billing

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// EmbeddingProviderPricing is the cost model for one embedding model.
// Dimensions is informational.
type EmbeddingProviderPricing struct {
	Model                string          `json:"model"`
	Dimensions           int             `json:"dimensions"`
	CostPerMillionTokens decimal.Decimal `json:"cost_per_million_tokens"`
}

func price(model string, dims int, perMillion string) EmbeddingProviderPricing {
	return EmbeddingProviderPricing{
		Model:                model,
		Dimensions:           dims,
		CostPerMillionTokens: decimal.RequireFromString(perMillion),
	}
}

// Built-in prices. Verify against provider price sheets before relying on
// them for invoicing.
var (
	catalogMu sync.RWMutex
	catalog   = defaultCatalog()
)

func defaultCatalog() map[string]EmbeddingProviderPricing {
	out := map[string]EmbeddingProviderPricing{}
	for _, p := range []string{"openrouter", "ollama"} {
		m, _ := PresetCatalog(p)
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// LookupPricing returns the pricing for model and an ok flag.
func LookupPricing(model string) (EmbeddingProviderPricing, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	p, ok := catalog[model]
	return p, ok
}

// MustPricing is LookupPricing with an error for unknown models.
func MustPricing(model string) (EmbeddingProviderPricing, error) {
	p, ok := LookupPricing(model)
	if !ok {
		return EmbeddingProviderPricing{}, fmt.Errorf("no pricing for model %q; add it with 'pricing sync' or --pricing", model)
	}
	return p, nil
}

// LoadCatalogFromJSON reads a JSON object keyed by model name, e.g.
//
//	{"openai/text-embedding-3-small": {"model": "openai/text-embedding-3-small", "dimensions": 1536, "cost_per_million_tokens": "0.02"}}
//
// Entries without a model name take their key.
func LoadCatalogFromJSON(path string) (map[string]EmbeddingProviderPricing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m map[string]EmbeddingProviderPricing
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode pricing catalog: %w", err)
	}
	if err := ValidateCatalog(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidateCatalog rejects negative prices and fills empty model names from
// their keys, in place.
func ValidateCatalog(m map[string]EmbeddingProviderPricing) error {
	for k, v := range m {
		if v.CostPerMillionTokens.IsNegative() {
			return fmt.Errorf("pricing for %q: negative cost %s", k, v.CostPerMillionTokens)
		}
		if v.Model == "" {
			v.Model = k
			m[k] = v
		}
	}
	return nil
}

// OverrideCatalog replaces the in-memory catalog entirely.
func OverrideCatalog(m map[string]EmbeddingProviderPricing) {
	if m == nil {
		return
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog = make(map[string]EmbeddingProviderPricing, len(m))
	for k, v := range m {
		catalog[k] = v
	}
}

// MergeCatalog adds or replaces entries in the in-memory catalog.
func MergeCatalog(m map[string]EmbeddingProviderPricing) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	for k, v := range m {
		catalog[k] = v
	}
}

// Catalog returns a copy of the current catalog.
func Catalog() map[string]EmbeddingProviderPricing {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	out := make(map[string]EmbeddingProviderPricing, len(catalog))
	for k, v := range catalog {
		out[k] = v
	}
	return out
}

// Models lists catalog keys in order.
func Models() []string {
	m := Catalog()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// PresetCatalog returns a curated catalog for a known provider.
func PresetCatalog(provider string) (map[string]EmbeddingProviderPricing, bool) {
	var list []EmbeddingProviderPricing
	switch provider {
	case "openrouter":
		list = []EmbeddingProviderPricing{
			price("openai/text-embedding-3-small", 1536, "0.02"),
			price("openai/text-embedding-3-large", 3072, "0.13"),
			price("openai/text-embedding-ada-002", 1536, "0.10"),
			price("mistralai/mistral-embed", 1024, "0.10"),
			price("google/gemini-embedding-001", 3072, "0.15"),
		}
	case "openai":
		list = []EmbeddingProviderPricing{
			price("text-embedding-3-small", 1536, "0.02"),
			price("text-embedding-3-large", 3072, "0.13"),
			price("text-embedding-ada-002", 1536, "0.10"),
		}
	case "ollama", "local":
		list = []EmbeddingProviderPricing{
			price("nomic-embed-text", 768, "0"),
			price("mxbai-embed-large", 1024, "0"),
			price("all-minilm", 384, "0"),
		}
	default:
		return nil, false
	}
	out := make(map[string]EmbeddingProviderPricing, len(list))
	for _, p := range list {
		out[p.Model] = p
	}
	return out, true
}

// RecommendModel suggests an embedding model for a provider and tier
// (cheap|quality). An empty provider means openrouter.
func RecommendModel(provider, tier string) (string, bool) {
	if provider == "" {
		provider = "openrouter"
	}
	switch tier {
	case "cheap":
		switch provider {
		case "openrouter":
			return "openai/text-embedding-3-small", true
		case "openai":
			return "text-embedding-3-small", true
		case "ollama", "local":
			return "all-minilm", true
		}
	case "quality":
		switch provider {
		case "openrouter":
			return "openai/text-embedding-3-large", true
		case "openai":
			return "text-embedding-3-large", true
		case "ollama", "local":
			return "mxbai-embed-large", true
		}
	}
	return "", false
}
