// Package store persists embedded chunks and answers nearest-neighbour
// queries over them.
package store

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"time"
)

// IndexVersion is bumped whenever the record layout changes in a way that
// makes old vectors unusable.
const IndexVersion = 2

// Backend names accepted by Open.
const (
	BackendJSON    = "json"
	BackendChromem = "chromem"
)

// Record is one embedded chunk.
type Record struct {
	DocID      string    `json:"doc_id"`
	DocName    string    `json:"doc_name"`
	ChunkIndex int       `json:"chunk_index"`
	ChunkHash  string    `json:"chunk_hash,omitempty"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	Vector     []float32 `json:"vector"`
}

// ID is the record's key inside a backend.
func (r Record) ID() string { return fmt.Sprintf("%s#%d", r.DocID, r.ChunkIndex) }

// Meta describes how the vectors in an index were produced. Vectors are
// only reusable under compatible meta.
type Meta struct {
	IndexVersion   int       `json:"index_version"`
	EmbedProvider  string    `json:"embed_provider"`
	EmbedModel     string    `json:"embed_model"`
	EmbedDim       int       `json:"embed_dim"`
	Encoding       string    `json:"encoding,omitempty"`
	ChunkMaxTokens int       `json:"chunk_max_tokens"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	ChunkMinTokens int       `json:"chunk_min_tokens"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Index is the full state a Store loads and saves.
type Index struct {
	// DocHashes maps document id to the sha1 of its extracted text.
	DocHashes map[string]string `json:"doc_hashes"`
	Records   []Record          `json:"records"`
	Meta      Meta              `json:"meta"`
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{DocHashes: map[string]string{}}
}

// Hit is a search result.
type Hit struct {
	Record
	Score float64 `json:"score"`
}

// Store is a persistent vector index.
type Store interface {
	// Load returns the saved index, or an empty one when nothing was saved.
	Load(ctx context.Context) (*Index, error)
	// Save replaces the stored index with idx.
	Save(ctx context.Context, idx *Index) error
	// Search returns up to topK records scoring at least minScore, best
	// first.
	Search(ctx context.Context, query []float32, topK int, minScore float64) ([]Hit, error)
	Close() error
}

// Open returns the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(dir), nil
	case BackendChromem:
		return NewChromemStore(dir)
	default:
		return nil, fmt.Errorf("unknown vector store %q (use json or chromem)", backend)
	}
}

// Compatible reports whether vectors built under prev can be reused under
// cur. Unset fields on either side do not conflict.
func Compatible(prev, cur Meta) bool {
	if prev.IndexVersion != cur.IndexVersion {
		return false
	}
	strs := [][2]string{
		{prev.EmbedProvider, cur.EmbedProvider},
		{prev.EmbedModel, cur.EmbedModel},
		{prev.Encoding, cur.Encoding},
	}
	for _, p := range strs {
		if p[0] != "" && p[1] != "" && p[0] != p[1] {
			return false
		}
	}
	ints := [][2]int{
		{prev.ChunkMaxTokens, cur.ChunkMaxTokens},
		{prev.ChunkOverlap, cur.ChunkOverlap},
		{prev.ChunkMinTokens, cur.ChunkMinTokens},
	}
	for _, p := range ints {
		if p[0] != 0 && p[1] != 0 && p[0] != p[1] {
			return false
		}
	}
	return true
}

// AllowDoc filters by include/exclude glob patterns matched against the
// document name. An empty include list admits everything.
func AllowDoc(name string, include, exclude []string) bool {
	matchAny := func(patterns []string) bool {
		for _, p := range patterns {
			if p == "" {
				continue
			}
			if ok, _ := path.Match(p, name); ok {
				return true
			}
		}
		return false
	}
	if len(include) > 0 && !matchAny(include) {
		return false
	}
	if len(exclude) > 0 && matchAny(exclude) {
		return false
	}
	return true
}

// CosineSim returns the cosine similarity of a and b, or 0 when the
// dimensions differ or either vector is zero.
func CosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		fa := float64(a[i])
		fb := float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Sort orders records by document name, then chunk index.
func (idx *Index) Sort() {
	sort.SliceStable(idx.Records, func(i, j int) bool {
		a, b := idx.Records[i], idx.Records[j]
		if a.DocName == b.DocName {
			if a.DocID == b.DocID {
				return a.ChunkIndex < b.ChunkIndex
			}
			return a.DocID < b.DocID
		}
		return a.DocName < b.DocName
	})
}

// Search scores every record against query.
func (idx *Index) Search(query []float32, topK int, minScore float64) []Hit {
	hits := make([]Hit, 0, len(idx.Records))
	for _, r := range idx.Records {
		s := CosineSim(query, r.Vector)
		if s >= minScore {
			hits = append(hits, Hit{Record: r, Score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
