package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/ledger"
	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
	"github.com/KaramelBytes/docloom-embed/internal/project"
	"github.com/KaramelBytes/docloom-embed/internal/store"
)

var (
	indexProject         string
	indexStore           string
	indexDryRun          bool
	indexForce           bool
	indexPrune           bool
	indexBudget          int64
	indexMaxChunksPerDoc int
	indexInclude         []string
	indexExclude         []string
)

var indexCmd = &cobra.Command{
	Use:   "index [file|dir|-]...",
	Short: "Chunk, price, embed and store documents",
	Long: `Index documents into a vector store. Chunks whose text is unchanged since
the last run keep their vectors and are not charged again. The run is priced
before any provider call and refused when it exceeds the credit budget.

With --project, the project's cached documents are indexed into the
project's own store and its settings override the global config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		var (
			proj     *project.Project
			settings *project.Settings
			docs     []pipeline.Document
			dir      = c.IndexDir
		)
		if indexProject != "" {
			projDir, err := resolveProjectDirByName(indexProject)
			if err != nil {
				return err
			}
			if proj, err = project.LoadProject(projDir); err != nil {
				return err
			}
			settings = proj.Settings
			dir = proj.IndexDir()
			docs = proj.PipelineDocuments()
		}
		counter := newCounter(c)
		defer counter.Close()
		if len(args) > 0 {
			extra, err := loadInputs(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			docs = append(docs, extra...)
		}
		if len(docs) == 0 {
			return errors.New("nothing to index: pass documents or --project")
		}

		provider, pricing, err := resolveModel(c, settings)
		if err != nil {
			return err
		}
		calc, err := newCalculator(c)
		if err != nil {
			return err
		}
		cc, err := chunkFlags(cmd, c)
		if err != nil {
			return err
		}
		if settings != nil && settings.Chunk != nil && !chunkFlagsChanged(cmd) {
			cc = *settings.Chunk
		}
		budget := c.BudgetCredits
		if settings != nil && settings.BudgetCredits > 0 {
			budget = settings.BudgetCredits
		}
		if cmd.Flags().Changed("budget-credits") {
			budget = indexBudget
		}
		backend := c.VectorStore
		if indexStore != "" {
			backend = indexStore
		}

		st, err := store.Open(backend, dir)
		if err != nil {
			return err
		}
		defer st.Close()
		led, err := ledger.Open(c.LedgerPath)
		if err != nil {
			return err
		}
		defer led.Close()
		deps := pipeline.Deps{Counter: counter, Store: st, Ledger: led, Calculator: calc}
		if !indexDryRun {
			if deps.Embedder, err = newEmbedder(c, provider); err != nil {
				return err
			}
		}
		include, exclude := c.RetrievalInclude, c.RetrievalExclude
		if len(indexInclude) > 0 {
			include = indexInclude
		}
		if len(indexExclude) > 0 {
			exclude = indexExclude
		}

		res, err := pipeline.Run(cmd.Context(), deps, docs, pipeline.Options{
			Provider:        provider,
			Pricing:         pricing,
			Encoding:        string(counter.Encoding()),
			Chunk:           cc,
			Workers:         c.Workers,
			BatchSize:       c.EmbedBatchSize,
			BudgetCredits:   budget,
			MaxChunksPerDoc: indexMaxChunksPerDoc,
			Include:         include,
			Exclude:         exclude,
			DryRun:          indexDryRun,
			Force:           indexForce,
			Prune:           indexPrune,
		})
		if errors.Is(err, pipeline.ErrBudgetExceeded) && res != nil {
			_ = printResult(cmd.ErrOrStderr(), res, calc)
		}
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), res, calc); err != nil {
			return err
		}
		if runJSON {
			return nil
		}
		if budget > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Budget: %d credits ($%s)\n", budget, calc.CreditsToUSD(budget))
		}
		if !res.DryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Indexed into %s (run %s)\n", dir, res.RunID)
		}
		return nil
	},
}

func chunkFlagsChanged(cmd *cobra.Command) bool {
	f := cmd.Flags()
	return f.Changed("max-tokens") || f.Changed("overlap") || f.Changed("min-tokens")
}

func init() {
	rootCmd.AddCommand(indexCmd)
	f := indexCmd.Flags()
	f.StringVarP(&indexProject, "project", "p", "", "index a project's documents")
	f.StringVar(&indexStore, "store", "", "vector store backend: json|chromem (overrides config)")
	f.BoolVar(&indexDryRun, "dry-run", false, "price the run without embedding")
	f.BoolVar(&indexForce, "force", false, "re-embed every chunk")
	f.BoolVar(&indexPrune, "prune", false, "drop stored documents not part of this run")
	f.Int64Var(&indexBudget, "budget-credits", 0, "refuse runs costing more credits (0 = unlimited)")
	f.IntVar(&indexMaxChunksPerDoc, "max-chunks-per-doc", 0, "cap chunks embedded per document (0 = no cap)")
	f.StringSliceVar(&indexInclude, "include", nil, "only index documents whose name matches these globs")
	f.StringSliceVar(&indexExclude, "exclude", nil, "skip documents whose name matches these globs")
	addModelFlags(indexCmd)
	addChunkFlags(indexCmd)
}
