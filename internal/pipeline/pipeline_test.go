package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/docloom-embed/internal/billing"
	"github.com/KaramelBytes/docloom-embed/internal/chunking"
	"github.com/KaramelBytes/docloom-embed/internal/ledger"
	"github.com/KaramelBytes/docloom-embed/internal/store"
)

// runeCounter counts one token per rune.
type runeCounter struct{}

func (runeCounter) CountTokens(s string) (int, error) { return len([]rune(s)), nil }

type fakeEmbedder struct {
	mu     sync.Mutex
	dim    int
	calls  int
	inputs int
	fail   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs += len(texts)
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		v := make([]float32, f.dim)
		v[len(s)%f.dim] = 1
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

func pricing() billing.EmbeddingProviderPricing {
	return billing.EmbeddingProviderPricing{Model: "e1", Dimensions: 3, CostPerMillionTokens: decimal.RequireFromString("0.02")}
}

func options() Options {
	return Options{
		Provider:  "openrouter",
		Pricing:   pricing(),
		Chunk:     chunking.Config{MaxTokens: 10, OverlapTokens: 0, MinTokens: 0},
		Workers:   2,
		BatchSize: 2,
	}
}

func docs() []Document {
	p := strings.Repeat("a", 8)
	return []Document{
		{ID: "d1", Name: "a.txt", Text: p + "\n\n" + p + "\n\n" + p},
		{ID: "d2", Name: "b.md", Text: "short note"},
	}
}

func TestRunIndexesAndReuses(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSONStore(t.TempDir())
	emb := &fakeEmbedder{dim: 3}
	deps := Deps{Counter: runeCounter{}, Embedder: emb, Store: st}

	res, err := Run(ctx, deps, docs(), options())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, 4, res.Embedded)
	assert.Equal(t, 0, res.Reused)
	assert.Equal(t, 34, res.Tokens)
	assert.Equal(t, 2, emb.calls, "4 chunks in batches of 2")

	idx, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, idx.Records, 4)
	assert.Equal(t, 3, idx.Meta.EmbedDim)
	assert.Equal(t, "a.txt", idx.Records[0].DocName)
	assert.Equal(t, "b.md", idx.Records[3].DocName)

	emb2 := &fakeEmbedder{dim: 3}
	deps.Embedder = emb2
	res, err = Run(ctx, deps, docs(), options())
	require.NoError(t, err)
	assert.Equal(t, 0, emb2.calls)
	assert.Equal(t, 4, res.Reused)
	assert.True(t, res.Charged.TotalCost.IsZero())
	assert.False(t, res.Estimate.TotalCost.IsZero())
}

func TestRunReembedsOnlyChangedChunks(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSONStore(t.TempDir())
	deps := Deps{Counter: runeCounter{}, Embedder: &fakeEmbedder{dim: 3}, Store: st}
	_, err := Run(ctx, deps, docs(), options())
	require.NoError(t, err)

	changed := docs()
	changed[1].Text = "other note"
	emb := &fakeEmbedder{dim: 3}
	deps.Embedder = emb
	res, err := Run(ctx, deps, changed, options())
	require.NoError(t, err)
	assert.Equal(t, 1, emb.inputs)
	assert.Equal(t, 3, res.Reused)
}

func TestRunForceAndIncompatibleMeta(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSONStore(t.TempDir())
	deps := Deps{Counter: runeCounter{}, Embedder: &fakeEmbedder{dim: 3}, Store: st}
	_, err := Run(ctx, deps, docs(), options())
	require.NoError(t, err)

	emb := &fakeEmbedder{dim: 3}
	deps.Embedder = emb
	opts := options()
	opts.Force = true
	_, err = Run(ctx, deps, docs(), opts)
	require.NoError(t, err)
	assert.Equal(t, 4, emb.inputs)

	emb = &fakeEmbedder{dim: 4}
	deps.Embedder = emb
	opts = options()
	opts.Pricing.Model = "e2"
	_, err = Run(ctx, deps, docs()[:1], opts)
	require.NoError(t, err)
	assert.Equal(t, 3, emb.inputs)
	idx, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, idx.Records, 3, "records from the old model are dropped")
	assert.Equal(t, 4, idx.Meta.EmbedDim)
}

func TestRunKeepsOtherDocsUnlessPruned(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSONStore(t.TempDir())
	deps := Deps{Counter: runeCounter{}, Embedder: &fakeEmbedder{dim: 3}, Store: st}
	_, err := Run(ctx, deps, docs(), options())
	require.NoError(t, err)

	_, err = Run(ctx, deps, docs()[1:], options())
	require.NoError(t, err)
	idx, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, idx.Records, 4)
	assert.Contains(t, idx.DocHashes, "d1")

	opts := options()
	opts.Prune = true
	_, err = Run(ctx, deps, docs()[1:], opts)
	require.NoError(t, err)
	idx, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, idx.Records, 1)
	assert.NotContains(t, idx.DocHashes, "d1")
}

func TestRunDryRunRecordsEstimateOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSONStore(t.TempDir())
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer l.Close()
	emb := &fakeEmbedder{dim: 3}
	deps := Deps{Counter: runeCounter{}, Embedder: emb, Store: st, Ledger: l}

	opts := options()
	opts.DryRun = true
	res, err := Run(ctx, deps, docs(), opts)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, emb.calls)
	idx, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, idx.Records)

	entries, err := l.Entries(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	totals, err := l.Totals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals, "dry runs are not charged")
}

func TestRunRecordsCharges(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer l.Close()
	deps := Deps{Counter: runeCounter{}, Embedder: &fakeEmbedder{dim: 3}, Store: store.NewJSONStore(t.TempDir()), Ledger: l}

	res, err := Run(ctx, deps, docs(), options())
	require.NoError(t, err)
	totals, err := l.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(res.Tokens), totals[0].Tokens)
	// 24 and 10 tokens at 0.02/M each round up to one credit.
	assert.Equal(t, int64(2), totals[0].Credits)
}

func TestRunBudgetExceeded(t *testing.T) {
	emb := &fakeEmbedder{dim: 3}
	deps := Deps{Counter: runeCounter{}, Embedder: emb, Store: store.NewJSONStore(t.TempDir())}
	opts := options()
	opts.BudgetCredits = 1
	res, err := Run(context.Background(), deps, docs(), opts)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	require.NotNil(t, res)
	assert.Equal(t, int64(2), res.Charged.Credits)
	assert.Zero(t, emb.calls)
}

func TestRunFiltersDocs(t *testing.T) {
	deps := Deps{Counter: runeCounter{}, Embedder: &fakeEmbedder{dim: 3}, Store: store.NewJSONStore(t.TempDir())}
	opts := options()
	opts.Include = []string{"*.md"}
	in := append(docs(), Document{Name: "blank.md", Text: "  \n"})
	res, err := Run(context.Background(), deps, in, opts)
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "b.md", res.Docs[0].DocName)
	assert.ElementsMatch(t, []string{"a.txt", "blank.md"}, res.Skipped)

	opts.Include = []string{"*.pdf"}
	_, err = Run(context.Background(), deps, docs(), opts)
	assert.Error(t, err)
}

func TestRunPropagatesEmbedErrors(t *testing.T) {
	boom := errors.New("provider down")
	st := store.NewJSONStore(t.TempDir())
	deps := Deps{Counter: runeCounter{}, Embedder: &fakeEmbedder{dim: 3, fail: boom}, Store: st}
	_, err := Run(context.Background(), deps, docs(), options())
	assert.ErrorIs(t, err, boom)
	idx, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, idx.Records, "nothing is saved when embedding fails")
}

func TestRunRejectsInvalidChunkConfig(t *testing.T) {
	deps := Deps{Counter: runeCounter{}, Store: store.NewJSONStore(t.TempDir())}
	opts := options()
	opts.Chunk.OverlapTokens = 10
	_, err := Run(context.Background(), deps, docs(), opts)
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	st := store.NewJSONStore(t.TempDir())
	emb := &fakeEmbedder{dim: 3}
	deps := Deps{Counter: runeCounter{}, Embedder: emb, Store: st}
	_, err := Run(ctx, deps, docs(), options())
	require.NoError(t, err)

	// "short note" has 10 runes, so its vector peaks at index 1 like the query.
	hits, err := Search(ctx, emb, st, "", "q", 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.md", hits[0].DocName)

	_, err = Search(ctx, emb, st, "", "  ", 1, 0)
	assert.Error(t, err)

	_, err = Search(ctx, emb, store.NewJSONStore(t.TempDir()), "", "q", 1, 0)
	assert.Error(t, err)
}

func TestRunDryRunWithoutStore(t *testing.T) {
	res, err := Run(context.Background(), Deps{Counter: runeCounter{}}, docs(), func() Options {
		o := options()
		o.DryRun = true
		return o
	}())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Embedded)
	assert.Equal(t, res.Estimate, res.Charged)

	_, err = Run(context.Background(), Deps{Counter: runeCounter{}}, docs(), options())
	assert.Error(t, err)
}
