package project

import (
	"fmt"
	"strconv"

	"github.com/KaramelBytes/docloom-embed/internal/chunking"
)

// SettingKeys lists the keys Set accepts.
var SettingKeys = []string{
	"embedding_provider",
	"embedding_model",
	"chunk_max_tokens",
	"chunk_overlap_tokens",
	"chunk_min_tokens",
	"budget_credits",
}

// Set assigns one setting from its string form. An empty value clears the
// override. Chunk keys start from chunking.DefaultConfig when the project
// has no chunk override yet, and the result must validate.
func (s *Settings) Set(key, val string) error {
	switch key {
	case "embedding_provider":
		switch val {
		case "", "openrouter", "ollama":
			s.EmbeddingProvider = val
		case "local":
			s.EmbeddingProvider = "ollama"
		default:
			return fmt.Errorf("invalid embedding_provider: %s (use openrouter or ollama)", val)
		}
	case "embedding_model":
		s.EmbeddingModel = val
	case "budget_credits":
		if val == "" {
			s.BudgetCredits = 0
			return nil
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid non-negative int for %s: %q", key, val)
		}
		s.BudgetCredits = n
	case "chunk_max_tokens", "chunk_overlap_tokens", "chunk_min_tokens":
		if val == "" {
			s.Chunk = nil
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid non-negative int for %s: %q", key, val)
		}
		cc := chunking.DefaultConfig()
		if s.Chunk != nil {
			cc = *s.Chunk
		}
		switch key {
		case "chunk_max_tokens":
			cc.MaxTokens = n
		case "chunk_overlap_tokens":
			cc.OverlapTokens = n
		default:
			cc.MinTokens = n
		}
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.Chunk = &cc
	default:
		return fmt.Errorf("unknown project setting: %s (known: %v)", key, SettingKeys)
	}
	return nil
}
