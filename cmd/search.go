package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
	"github.com/KaramelBytes/docloom-embed/internal/project"
	"github.com/KaramelBytes/docloom-embed/internal/store"
)

var (
	searchProject  string
	searchStore    string
	searchTopK     int
	searchMinScore float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the stored chunks closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		dir := c.IndexDir
		if searchProject != "" {
			projDir, err := resolveProjectDirByName(searchProject)
			if err != nil {
				return err
			}
			p, err := project.LoadProject(projDir)
			if err != nil {
				return err
			}
			dir = p.IndexDir()
		}
		backend := c.VectorStore
		if searchStore != "" {
			backend = searchStore
		}
		st, err := store.Open(backend, dir)
		if err != nil {
			return err
		}
		defer st.Close()
		idx, err := st.Load(cmd.Context())
		if err != nil {
			return err
		}
		if len(idx.Records) == 0 {
			return errors.New("index is empty; run index first")
		}

		provider, model := idx.Meta.EmbedProvider, idx.Meta.EmbedModel
		if runProvider != "" {
			provider = runProvider
		}
		if runModel != "" {
			model = runModel
		}
		emb, err := newEmbedder(c, provider)
		if err != nil {
			return err
		}
		topK, minScore := c.RetrievalTopK, c.RetrievalMinScore
		if cmd.Flags().Changed("top-k") {
			topK = searchTopK
		}
		if cmd.Flags().Changed("min-score") {
			minScore = searchMinScore
		}
		hits, err := pipeline.Search(cmd.Context(), emb, st, model, strings.Join(args, " "), topK, minScore)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if runJSON {
			return writeJSON(out, hits)
		}
		if len(hits) == 0 {
			fmt.Fprintln(out, "(no matches)")
			return nil
		}
		for i, h := range hits {
			fmt.Fprintf(out, "%d. %s #%d (score %.4f, %d tokens)\n%s\n\n", i+1, h.DocName, h.ChunkIndex, h.Score, h.TokenCount, h.Text)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	f := searchCmd.Flags()
	f.StringVarP(&searchProject, "project", "p", "", "search a project's index")
	f.StringVar(&searchStore, "store", "", "vector store backend: json|chromem (overrides config)")
	f.IntVarP(&searchTopK, "top-k", "k", 6, "number of chunks to return")
	f.Float64Var(&searchMinScore, "min-score", 0, "drop matches below this cosine similarity")
	f.StringVar(&runProvider, "provider", "", "embedding provider (defaults to the index's)")
	f.StringVar(&runModel, "model", "", "embedding model (defaults to the index's)")
	f.BoolVar(&runJSON, "json", false, "print matches as JSON")
}
