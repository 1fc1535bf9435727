package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/docloom-embed/internal/chunking"
	"github.com/KaramelBytes/docloom-embed/internal/parser"
	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

const (
	projectFileName = "project.json"
	indexDirName    = "index"
)

// Project is a named set of documents embedded into one index.
type Project struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Documents   map[string]*Document `json:"documents"`
	Settings    *Settings            `json:"settings"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`

	// Not serialized: on-disk location of the project.json
	rootDir string `json:"-"`
}

// Settings override the global configuration for one project. Zero values
// inherit.
type Settings struct {
	EmbeddingProvider string           `json:"embedding_provider,omitempty"`
	EmbeddingModel    string           `json:"embedding_model,omitempty"`
	Chunk             *chunking.Config `json:"chunk,omitempty"`
	BudgetCredits     int64            `json:"budget_credits,omitempty"`
}

// TokenCounter is satisfied by *tokens.Counter.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// NewProject constructs an in-memory project. Call Save() to persist.
func NewProject(name, description, rootDir string) *Project {
	return &Project{
		Name:        name,
		Description: description,
		Documents:   make(map[string]*Document),
		Settings:    &Settings{},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		rootDir:     rootDir,
	}
}

// LoadProject loads a project.json from the provided directory.
func LoadProject(dir string) (*Project, error) {
	path := filepath.Join(dir, projectFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("project not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read project: %w", err)
	}
	var p Project
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	if p.Documents == nil {
		p.Documents = make(map[string]*Document)
	}
	if p.Settings == nil {
		p.Settings = &Settings{}
	}
	p.rootDir = dir
	return &p, nil
}

// Exists reports whether dir holds a project.json.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, projectFileName))
	return err == nil
}

// RootDir returns the on-disk project directory path.
func (p *Project) RootDir() string { return p.rootDir }

// IndexDir is where the project's vector store lives.
func (p *Project) IndexDir() string { return filepath.Join(p.rootDir, indexDirName) }

// Save writes project.json using atomic write.
func (p *Project) Save() error {
	if p.rootDir == "" {
		return errors.New("project root directory not set")
	}
	p.UpdatedAt = time.Now()
	data, err := utils.PrettyJSON(p)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(filepath.Join(p.rootDir, projectFileName), data)
}

// AddDocument extracts a file, counts its tokens and caches it in the
// project. Re-adding the same path refreshes the cached text but keeps the
// document id, so unchanged chunks keep their vectors.
func (p *Project) AddDocument(path, description string, counter TokenCounter) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	text, err := parser.ParseFile(abs)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	n, err := counter.CountTokens(text)
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}

	d := p.findByPath(abs)
	if d == nil {
		d = &Document{ID: uuid.NewString(), Path: abs}
	}
	d.Name = filepath.Base(abs)
	if description != "" || d.Description == "" {
		d.Description = description
	}
	d.Content = text
	d.ContentHash = contentHash(text)
	d.Tokens = n
	d.ModifiedAt = info.ModTime()
	d.AddedAt = time.Now()

	if p.Documents == nil {
		p.Documents = make(map[string]*Document)
	}
	p.Documents[d.ID] = d
	p.UpdatedAt = time.Now()
	return d, nil
}

// RemoveDocument deletes a document by id or file name.
func (p *Project) RemoveDocument(ref string) (*Document, error) {
	if d, ok := p.Documents[ref]; ok {
		delete(p.Documents, ref)
		p.UpdatedAt = time.Now()
		return d, nil
	}
	var match *Document
	for _, d := range p.Documents {
		if d.Name != ref {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%q matches more than one document; remove by id", ref)
		}
		match = d
	}
	if match == nil {
		return nil, fmt.Errorf("no document %q in project %s", ref, p.Name)
	}
	delete(p.Documents, match.ID)
	p.UpdatedAt = time.Now()
	return match, nil
}

// SortedDocuments returns documents ordered by name, then id.
func (p *Project) SortedDocuments() []*Document {
	out := make([]*Document, 0, len(p.Documents))
	for _, d := range p.Documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// TotalTokens sums the cached token counts.
func (p *Project) TotalTokens() int {
	n := 0
	for _, d := range p.Documents {
		n += d.Tokens
	}
	return n
}

// PipelineDocuments returns the cached texts in a stable order.
func (p *Project) PipelineDocuments() []pipeline.Document {
	docs := p.SortedDocuments()
	out := make([]pipeline.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, pipeline.Document{ID: d.ID, Name: d.Name, Text: d.Content})
	}
	return out
}

func (p *Project) findByPath(abs string) *Document {
	for _, d := range p.Documents {
		if d.Path == abs {
			return d
		}
	}
	return nil
}
