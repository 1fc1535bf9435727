package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/chunking"
	cfgpkg "github.com/KaramelBytes/docloom-embed/internal/config"
)

var (
	chunkMaxTokens int
	chunkOverlap   int
	chunkMinTokens int
	chunkTextOnly  bool
)

type chunkOutput struct {
	Document string               `json:"document"`
	Config   chunking.Config      `json:"config"`
	Tokens   int                  `json:"tokens"`
	Chunks   []chunking.TextChunk `json:"chunks"`
}

var chunkCmd = &cobra.Command{
	Use:   "chunk <file|dir|->...",
	Short: "Split documents into token-bounded chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
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
		chunker := chunking.New(counter)
		out := cmd.OutOrStdout()
		var outputs []chunkOutput
		for _, d := range docs {
			chunks, err := chunker.Chunk(d.Text, cc)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", d.Name, err)
			}
			if chunkTextOnly {
				for _, ch := range chunks {
					fmt.Fprintf(out, "--- %s #%d (%d tokens)\n%s\n", d.Name, ch.Index, ch.TokenCount, ch.Text)
				}
				continue
			}
			outputs = append(outputs, chunkOutput{Document: d.Name, Config: cc, Tokens: chunking.TotalTokens(chunks), Chunks: chunks})
		}
		if chunkTextOnly {
			return nil
		}
		return writeJSON(out, outputs)
	},
}

// chunkFlags overlays explicitly set chunk flags on the configured defaults.
func chunkFlags(cmd *cobra.Command, c *cfgpkg.Global) (chunking.Config, error) {
	cc := chunking.Config{
		MaxTokens:     c.ChunkMaxTokens,
		OverlapTokens: c.ChunkOverlapTokens,
		MinTokens:     c.ChunkMinTokens,
	}
	f := cmd.Flags()
	if f.Changed("max-tokens") {
		cc.MaxTokens = chunkMaxTokens
	}
	if f.Changed("overlap") {
		cc.OverlapTokens = chunkOverlap
	}
	if f.Changed("min-tokens") {
		cc.MinTokens = chunkMinTokens
	}
	if err := cc.Validate(); err != nil {
		return chunking.Config{}, fmt.Errorf("chunk settings: %w", err)
	}
	return cc, nil
}

func addChunkFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&chunkMaxTokens, "max-tokens", chunking.DefaultMaxTokens, "maximum tokens per chunk")
	cmd.Flags().IntVar(&chunkOverlap, "overlap", chunking.DefaultOverlapTokens, "tokens shared between adjacent chunks")
	cmd.Flags().IntVar(&chunkMinTokens, "min-tokens", chunking.DefaultMinTokens, "tail chunks below this merge into their predecessor")
}

func init() {
	rootCmd.AddCommand(chunkCmd)
	addChunkFlags(chunkCmd)
	chunkCmd.Flags().BoolVar(&chunkTextOnly, "text", false, "print chunk text instead of JSON")
}
