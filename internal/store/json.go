package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

// JSONStore keeps the whole index in a single index.json file.
type JSONStore struct {
	path string

	mu sync.Mutex
}

// NewJSONStore returns a store writing dir/index.json.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{path: IndexPath(dir)}
}

// IndexPath is the location of the JSON index under dir.
func IndexPath(dir string) string {
	return filepath.Join(dir, "index.json")
}

// Path returns the file backing the store.
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Load(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONStore) load() (*Index, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewIndex(), nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", s.path, err)
	}
	if idx.DocHashes == nil {
		idx.DocHashes = map[string]string{}
	}
	// Indexes written before versioning.
	if idx.Meta.IndexVersion == 0 {
		idx.Meta.IndexVersion = 1
	}
	return &idx, nil
}

func (s *JSONStore) Save(ctx context.Context, idx *Index) error {
	if idx == nil {
		return errors.New("nil index")
	}
	if idx.DocHashes == nil {
		idx.DocHashes = map[string]string{}
	}
	b, err := utils.PrettyJSON(idx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return utils.SafeWriteFile(s.path, b)
}

func (s *JSONStore) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]Hit, error) {
	s.mu.Lock()
	idx, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return idx.Search(query, topK, minScore), nil
}

func (s *JSONStore) Close() error { return nil }
