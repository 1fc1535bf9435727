package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

const chromemCollection = "chunks"

// manifest holds what chromem cannot: index meta, document hashes and the
// ordered list of record ids.
type manifest struct {
	Meta      Meta              `json:"meta"`
	DocHashes map[string]string `json:"doc_hashes"`
	IDs       []string          `json:"ids"`
}

// ChromemStore keeps vectors in a persistent chromem-go collection. Vectors
// are stored normalized, so a reloaded record carries a unit vector.
type ChromemStore struct {
	dir string
	db  *chromem.DB
}

// NewChromemStore opens (or creates) a chromem database under dir.
func NewChromemStore(dir string) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "chromem"), true)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &ChromemStore{dir: dir, db: db}, nil
}

func (s *ChromemStore) manifestPath() string {
	return filepath.Join(s.dir, "chromem-manifest.json")
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

func (s *ChromemStore) Load(ctx context.Context) (*Index, error) {
	b, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewIndex(), nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	c, err := s.collection()
	if err != nil {
		return nil, err
	}
	idx := &Index{DocHashes: m.DocHashes, Meta: m.Meta}
	if idx.DocHashes == nil {
		idx.DocHashes = map[string]string{}
	}
	for _, id := range m.IDs {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			// A missing document only costs a re-embed.
			log.Warn().Str("id", id).Err(err).Msg("chromem record missing")
			continue
		}
		r, err := recordFromDoc(doc.Metadata, doc.Content)
		if err != nil {
			return nil, err
		}
		r.Vector = doc.Embedding
		idx.Records = append(idx.Records, r)
	}
	return idx, nil
}

func (s *ChromemStore) Save(ctx context.Context, idx *Index) error {
	if idx == nil {
		return errors.New("nil index")
	}
	if err := s.db.DeleteCollection(chromemCollection); err != nil {
		return fmt.Errorf("reset collection: %w", err)
	}
	c, err := s.collection()
	if err != nil {
		return err
	}
	m := manifest{Meta: idx.Meta, DocHashes: idx.DocHashes, IDs: make([]string, 0, len(idx.Records))}
	docs := make([]chromem.Document, 0, len(idx.Records))
	for _, r := range idx.Records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s has no vector", r.ID())
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID(),
			Content:   r.Text,
			Metadata:  docMetadata(r),
			Embedding: r.Vector,
		})
		m.IDs = append(m.IDs, r.ID())
	}
	if len(docs) > 0 {
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("add documents: %w", err)
		}
	}
	b, err := utils.PrettyJSON(m)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(s.manifestPath(), b)
}

func (s *ChromemStore) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]Hit, error) {
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	c, err := s.collection()
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > 0 && topK < n {
		n = topK
	}
	res, err := c.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	hits := make([]Hit, 0, len(res))
	for _, r := range res {
		if float64(r.Similarity) < minScore {
			continue
		}
		rec, err := recordFromDoc(r.Metadata, r.Content)
		if err != nil {
			return nil, err
		}
		rec.Vector = r.Embedding
		hits = append(hits, Hit{Record: rec, Score: float64(r.Similarity)})
	}
	return hits, nil
}

func (s *ChromemStore) Close() error { return nil }

func docMetadata(r Record) map[string]string {
	return map[string]string{
		"doc_id":      r.DocID,
		"doc_name":    r.DocName,
		"chunk_index": strconv.Itoa(r.ChunkIndex),
		"chunk_hash":  r.ChunkHash,
		"token_count": strconv.Itoa(r.TokenCount),
		"start_char":  strconv.Itoa(r.StartChar),
		"end_char":    strconv.Itoa(r.EndChar),
	}
}

func recordFromDoc(md map[string]string, content string) (Record, error) {
	r := Record{
		DocID:     md["doc_id"],
		DocName:   md["doc_name"],
		ChunkHash: md["chunk_hash"],
		Text:      content,
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"chunk_index", &r.ChunkIndex},
		{"token_count", &r.TokenCount},
		{"start_char", &r.StartChar},
		{"end_char", &r.EndChar},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(md[f.key])
		if err != nil {
			return Record{}, fmt.Errorf("chromem metadata %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return r, nil
}
