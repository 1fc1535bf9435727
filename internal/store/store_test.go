package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndex() *Index {
	idx := NewIndex()
	idx.DocHashes["d1"] = "h1"
	idx.Meta = Meta{IndexVersion: IndexVersion, EmbedProvider: "openrouter", EmbedModel: "e1", EmbedDim: 3, ChunkMaxTokens: 10}
	for i, v := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		idx.Records = append(idx.Records, Record{
			DocID: "d1", DocName: "a.txt", ChunkIndex: i, ChunkHash: "c", Text: "chunk",
			TokenCount: 2, StartChar: i * 5, EndChar: i*5 + 5, Vector: v,
		})
	}
	return idx
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	cs, err := NewChromemStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		BackendJSON:    NewJSONStore(t.TempDir()),
		BackendChromem: cs,
	}
}

func TestStoreLoadEmpty(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx, err := s.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, idx.Records)
			assert.NotNil(t, idx.DocHashes)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, sampleIndex()))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got.Records, 3)
			assert.Equal(t, "h1", got.DocHashes["d1"])
			assert.Equal(t, "e1", got.Meta.EmbedModel)
			assert.Equal(t, 1, got.Records[1].ChunkIndex)
			assert.Equal(t, 10, got.Records[2].EndChar)
			assert.InDelta(t, 1.0, got.Records[1].Vector[1], 1e-6)
		})
	}
}

func TestStoreSaveReplaces(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, sampleIndex()))
			smaller := sampleIndex()
			smaller.Records = smaller.Records[:1]
			require.NoError(t, s.Save(ctx, smaller))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got.Records, 1)
		})
	}
}

func TestStoreSearchRanking(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, sampleIndex()))
			hits, err := s.Search(ctx, []float32{0, 1, 0.1}, 1, 0)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, 1, hits[0].ChunkIndex)
			assert.Equal(t, "a.txt", hits[0].DocName)
			assert.Greater(t, hits[0].Score, 0.9)

			hits, err = s.Search(ctx, []float32{0, 1, 0}, 10, 0.5)
			require.NoError(t, err)
			assert.Len(t, hits, 1, "min score filters the orthogonal chunks")
		})
	}
}

func TestJSONStoreBackfillsVersion(t *testing.T) {
	s := NewJSONStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"records":[]}`), 0o644))
	idx, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Meta.IndexVersion)
}

func TestJSONStoreRejectsCorruptFile(t *testing.T) {
	s := NewJSONStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{not json`), 0o644))
	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}

func TestCompatible(t *testing.T) {
	base := Meta{IndexVersion: IndexVersion, EmbedModel: "e1", ChunkMaxTokens: 512, ChunkOverlap: 50}
	assert.True(t, Compatible(base, base))

	other := base
	other.EmbedModel = "e2"
	assert.False(t, Compatible(base, other))

	other = base
	other.ChunkOverlap = 10
	assert.False(t, Compatible(base, other))

	other = base
	other.IndexVersion = 1
	assert.False(t, Compatible(base, other))

	other = base
	other.Encoding = "o200k_base"
	assert.True(t, Compatible(base, other), "unset encoding does not conflict")
}

func TestAllowDoc(t *testing.T) {
	assert.True(t, AllowDoc("report.txt", []string{"*.txt"}, nil))
	assert.False(t, AllowDoc("report.txt", []string{"*.md"}, nil))
	assert.False(t, AllowDoc("temp.log", nil, []string{"*.log"}))
	assert.True(t, AllowDoc("notes.md", nil, nil))
}

func TestCosineSim(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSim([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Zero(t, CosineSim([]float32{1, 0}, []float32{0, 1}))
	assert.Zero(t, CosineSim([]float32{1}, []float32{1, 0}))
	assert.Zero(t, CosineSim([]float32{0, 0}, []float32{1, 0}))
}
