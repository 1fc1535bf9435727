// Package pipeline runs extracted documents through chunking, pricing,
// embedding and storage.
package pipeline

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/docloom-embed/internal/ai"
	"github.com/KaramelBytes/docloom-embed/internal/billing"
	"github.com/KaramelBytes/docloom-embed/internal/chunking"
	"github.com/KaramelBytes/docloom-embed/internal/ledger"
	"github.com/KaramelBytes/docloom-embed/internal/store"
)

// ErrBudgetExceeded is returned before any embedding call when a run would
// spend more credits than allowed.
var ErrBudgetExceeded = errors.New("credit budget exceeded")

// Document is extracted text ready for chunking. ID defaults to Name and
// must be stable across runs for vector reuse to work.
type Document struct {
	ID   string
	Name string
	Text string
}

// Recorder persists per-document charges. *ledger.Ledger satisfies it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Deps are the collaborators of a run. Ledger is optional.
type Deps struct {
	Counter    chunking.TokenCounter
	Embedder   ai.Embedder
	Store      store.Store
	Ledger     Recorder
	Calculator *billing.Calculator
}

// Options control a run.
type Options struct {
	Provider string
	Pricing  billing.EmbeddingProviderPricing
	Encoding string
	Chunk    chunking.Config

	Workers         int
	BatchSize       int
	BudgetCredits   int64
	MaxChunksPerDoc int
	Include         []string
	Exclude         []string

	DryRun bool
	Force  bool
	// Prune drops stored documents that are not part of this run.
	Prune bool
}

// DocReport is the outcome for one document. Estimate prices every chunk;
// Charged prices only the chunks actually sent to the provider.
type DocReport struct {
	DocID    string               `json:"doc_id"`
	DocName  string               `json:"doc_name"`
	Chunks   int                  `json:"chunks"`
	Tokens   int                  `json:"tokens"`
	Reused   int                  `json:"reused"`
	Embedded int                  `json:"embedded"`
	Estimate billing.CostEstimate `json:"estimate"`
	Charged  billing.CostEstimate `json:"charged"`
}

// Result summarises a run.
type Result struct {
	RunID    string               `json:"run_id"`
	Model    string               `json:"model"`
	DryRun   bool                 `json:"dry_run"`
	Docs     []DocReport          `json:"documents"`
	Skipped  []string             `json:"skipped,omitempty"`
	Chunks   int                  `json:"chunks"`
	Tokens   int                  `json:"tokens"`
	Reused   int                  `json:"reused"`
	Embedded int                  `json:"embedded"`
	Estimate billing.CostEstimate `json:"estimate"`
	Charged  billing.CostEstimate `json:"charged"`
}

type chunkedDoc struct {
	doc    Document
	hash   string
	chunks []chunking.TextChunk
}

type pending struct {
	doc   int
	chunk chunking.TextChunk
	hash  string
}

// Run chunks, prices and (unless DryRun) embeds and stores docs.
func Run(ctx context.Context, deps Deps, docs []Document, opts Options) (*Result, error) {
	if deps.Counter == nil {
		return nil, errors.New("pipeline needs a token counter")
	}
	if deps.Store == nil && !opts.DryRun {
		return nil, errors.New("pipeline needs a store unless dry-running")
	}
	if deps.Calculator == nil {
		deps.Calculator = billing.DefaultCalculator()
	}
	if err := opts.Chunk.Validate(); err != nil {
		return nil, err
	}
	if opts.Pricing.Model == "" {
		return nil, errors.New("pipeline needs an embedding model")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}

	res := &Result{RunID: uuid.NewString(), Model: opts.Pricing.Model, DryRun: opts.DryRun}
	var selected []Document
	for _, d := range docs {
		if d.ID == "" {
			d.ID = d.Name
		}
		if !store.AllowDoc(d.Name, opts.Include, opts.Exclude) || strings.TrimSpace(d.Text) == "" {
			res.Skipped = append(res.Skipped, d.Name)
			continue
		}
		selected = append(selected, d)
	}
	if len(selected) == 0 {
		return nil, errors.New("no documents to process")
	}

	chunked, err := chunkAll(ctx, deps.Counter, selected, opts)
	if err != nil {
		return nil, err
	}

	prev := store.NewIndex()
	if deps.Store != nil {
		if prev, err = deps.Store.Load(ctx); err != nil {
			return nil, fmt.Errorf("load index: %w", err)
		}
	}
	now := time.Now().UTC()
	meta := store.Meta{
		IndexVersion:   store.IndexVersion,
		EmbedProvider:  opts.Provider,
		EmbedModel:     opts.Pricing.Model,
		EmbedDim:       prev.Meta.EmbedDim,
		Encoding:       opts.Encoding,
		ChunkMaxTokens: opts.Chunk.MaxTokens,
		ChunkOverlap:   opts.Chunk.OverlapTokens,
		ChunkMinTokens: opts.Chunk.MinTokens,
		CreatedAt:      prev.Meta.CreatedAt,
		UpdatedAt:      now,
	}
	compatible := store.Compatible(prev.Meta, meta) && len(prev.Records) > 0
	if !compatible {
		meta.EmbedDim = 0
		if len(prev.Records) > 0 {
			log.Warn().Str("prev_model", prev.Meta.EmbedModel).Str("model", meta.EmbedModel).Msg("stored index is incompatible and will be rebuilt")
		}
	}
	if meta.CreatedAt.IsZero() || !compatible {
		meta.CreatedAt = now
	}
	reusable := map[string]map[string]store.Record{}
	if compatible && !opts.Force {
		for _, r := range prev.Records {
			if len(r.Vector) == 0 || r.ChunkHash == "" {
				continue
			}
			if reusable[r.DocID] == nil {
				reusable[r.DocID] = map[string]store.Record{}
			}
			reusable[r.DocID][r.ChunkHash] = r
		}
	}

	next := store.NewIndex()
	next.Meta = meta
	var todo []pending
	for i, cd := range chunked {
		rep := DocReport{DocID: cd.doc.ID, DocName: cd.doc.Name, Chunks: len(cd.chunks), Tokens: chunking.TotalTokens(cd.chunks)}
		charged := 0
		for _, ch := range cd.chunks {
			h := chunkHash(ch.Text)
			if r, ok := reusable[cd.doc.ID][h]; ok {
				r.DocName, r.ChunkIndex, r.TokenCount, r.StartChar, r.EndChar = cd.doc.Name, ch.Index, ch.TokenCount, ch.StartChar, ch.EndChar
				next.Records = append(next.Records, r)
				rep.Reused++
				continue
			}
			todo = append(todo, pending{doc: i, chunk: ch, hash: h})
			rep.Embedded++
			charged += ch.TokenCount
		}
		if rep.Estimate, err = deps.Calculator.Estimate(rep.Tokens, opts.Pricing); err != nil {
			return nil, fmt.Errorf("estimate %s: %w", cd.doc.Name, err)
		}
		if rep.Charged, err = deps.Calculator.Estimate(charged, opts.Pricing); err != nil {
			return nil, fmt.Errorf("estimate %s: %w", cd.doc.Name, err)
		}
		next.DocHashes[cd.doc.ID] = cd.hash
		res.Docs = append(res.Docs, rep)
		res.Chunks += rep.Chunks
		res.Tokens += rep.Tokens
		res.Reused += rep.Reused
		res.Embedded += rep.Embedded
		res.Estimate = res.Estimate.Add(rep.Estimate)
		res.Charged = res.Charged.Add(rep.Charged)
	}
	log.Info().
		Str("run", res.RunID).
		Int("docs", len(res.Docs)).
		Int("chunks", res.Chunks).
		Int("tokens", res.Tokens).
		Int("reused", res.Reused).
		Int64("credits", res.Charged.Credits).
		Str("cost_usd", res.Charged.TotalCost.String()).
		Msg("estimated run")

	if opts.BudgetCredits > 0 && res.Charged.Credits > opts.BudgetCredits {
		return res, fmt.Errorf("%w: need %d credits, budget %d", ErrBudgetExceeded, res.Charged.Credits, opts.BudgetCredits)
	}
	if opts.DryRun {
		if err := recordCharges(ctx, deps.Ledger, res, opts); err != nil {
			return res, err
		}
		return res, nil
	}
	if len(todo) > 0 && deps.Embedder == nil {
		return nil, errors.New("pipeline needs an embedder")
	}

	vecs, err := embedAll(ctx, deps.Embedder, opts, todo)
	if err != nil {
		return res, err
	}
	for i, p := range todo {
		cd := chunked[p.doc]
		next.Records = append(next.Records, store.Record{
			DocID:      cd.doc.ID,
			DocName:    cd.doc.Name,
			ChunkIndex: p.chunk.Index,
			ChunkHash:  p.hash,
			Text:       p.chunk.Text,
			TokenCount: p.chunk.TokenCount,
			StartChar:  p.chunk.StartChar,
			EndChar:    p.chunk.EndChar,
			Vector:     vecs[i],
		})
	}
	if err := setDim(&next.Meta, next.Records); err != nil {
		return res, err
	}

	if compatible && !opts.Prune {
		for _, r := range prev.Records {
			if _, ok := next.DocHashes[r.DocID]; ok {
				continue
			}
			next.Records = append(next.Records, r)
			if h, ok := prev.DocHashes[r.DocID]; ok {
				next.DocHashes[r.DocID] = h
			}
		}
	}
	next.Sort()
	if err := deps.Store.Save(ctx, next); err != nil {
		return res, fmt.Errorf("save index: %w", err)
	}
	if err := recordCharges(ctx, deps.Ledger, res, opts); err != nil {
		return res, err
	}
	log.Info().Str("run", res.RunID).Int("embedded", res.Embedded).Int("records", len(next.Records)).Msg("index updated")
	return res, nil
}

func chunkAll(ctx context.Context, counter chunking.TokenCounter, docs []Document, opts Options) ([]chunkedDoc, error) {
	chunker := chunking.New(counter)
	out := make([]chunkedDoc, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, d := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunks, err := chunker.Chunk(d.Text, opts.Chunk)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", d.Name, err)
			}
			if opts.MaxChunksPerDoc > 0 && len(chunks) > opts.MaxChunksPerDoc {
				chunks = chunks[:opts.MaxChunksPerDoc]
			}
			log.Debug().Str("doc", d.Name).Int("chunks", len(chunks)).Int("tokens", chunking.TotalTokens(chunks)).Msg("chunked")
			out[i] = chunkedDoc{doc: d, hash: chunkHash(d.Text), chunks: chunks}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func embedAll(ctx context.Context, emb ai.Embedder, opts Options, todo []pending) ([][]float32, error) {
	vecs := make([][]float32, len(todo))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for start := 0; start < len(todo); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(todo))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, p := range todo[start:end] {
				texts = append(texts, p.chunk.Text)
			}
			out, err := emb.Embed(ctx, opts.Pricing.Model, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(out), len(texts))
			}
			copy(vecs[start:end], out)
			log.Debug().Int("from", start).Int("to", end).Msg("embedded batch")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

func setDim(meta *store.Meta, recs []store.Record) error {
	for _, r := range recs {
		if len(r.Vector) == 0 {
			return fmt.Errorf("chunk %s has an empty vector", r.ID())
		}
		if meta.EmbedDim == 0 {
			meta.EmbedDim = len(r.Vector)
		}
		if len(r.Vector) != meta.EmbedDim {
			return fmt.Errorf("chunk %s has dimension %d, index uses %d", r.ID(), len(r.Vector), meta.EmbedDim)
		}
	}
	return nil
}

func recordCharges(ctx context.Context, rec Recorder, res *Result, opts Options) error {
	if rec == nil {
		return nil
	}
	for _, d := range res.Docs {
		_, err := rec.Record(ctx, ledger.Entry{
			RunID:    res.RunID,
			DocID:    d.DocID,
			DocName:  d.DocName,
			Provider: opts.Provider,
			Model:    opts.Pricing.Model,
			Tokens:   d.Tokens,
			Chunks:   d.Chunks,
			Cost:     d.Charged,
			DryRun:   opts.DryRun,
		})
		if err != nil {
			return fmt.Errorf("record charge for %s: %w", d.DocName, err)
		}
	}
	return nil
}

func chunkHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return fmt.Sprintf("%x", sum[:])
}

// Search embeds query with model (the index's model when empty) and returns
// the closest stored chunks.
func Search(ctx context.Context, emb ai.Embedder, st store.Store, model, query string, topK int, minScore float64) ([]store.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must be non-empty")
	}
	if model == "" {
		idx, err := st.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load index: %w", err)
		}
		model = idx.Meta.EmbedModel
		if model == "" {
			return nil, errors.New("index is empty; run index first")
		}
	}
	vecs, err := emb.Embed(ctx, model, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("got %d query vectors", len(vecs))
	}
	return st.Search(ctx, vecs[0], topK, minScore)
}
