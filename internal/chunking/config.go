package chunking

import "github.com/KaramelBytes/docloom-embed/internal/errs"

const (
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 50
	DefaultMinTokens     = 50
)

// Config controls how text is split. The zero value is invalid; start from
// DefaultConfig.
type Config struct {
	MaxTokens     int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	OverlapTokens int `json:"overlap_tokens" yaml:"overlap_tokens" mapstructure:"overlap_tokens"`
	MinTokens     int `json:"min_tokens" yaml:"min_tokens" mapstructure:"min_tokens"`
}

// DefaultConfig returns 512 max, 50 overlap, 50 min.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
		MinTokens:     DefaultMinTokens,
	}
}

// Validate reports the first constraint the config breaks.
func (c Config) Validate() error {
	switch {
	case c.MaxTokens <= 0:
		return errs.InvalidArgument("maxTokens", "must be > 0, got %d", c.MaxTokens)
	case c.MinTokens < 0:
		return errs.InvalidArgument("minTokens", "must be >= 0, got %d", c.MinTokens)
	case c.MaxTokens <= c.MinTokens:
		return errs.InvalidArgument("maxTokens", "must be > minTokens (%d), got %d", c.MinTokens, c.MaxTokens)
	case c.OverlapTokens < 0:
		return errs.InvalidArgument("overlapTokens", "must be >= 0, got %d", c.OverlapTokens)
	case c.OverlapTokens >= c.MaxTokens:
		return errs.InvalidArgument("overlapTokens", "must be < maxTokens (%d), got %d", c.MaxTokens, c.OverlapTokens)
	}
	return nil
}
