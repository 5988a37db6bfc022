// Package ingest loads documents from disk, chunks them, and feeds the
// vector index that retrieval runs against.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/user/docchat/internal/types"
)

// Document is one registered source file.
type Document struct {
	ID        types.SubjectID `json:"id"`
	CorpusID  types.SubjectID `json:"corpus_id,omitempty"`
	Path      string          `json:"path"`
	Title     string          `json:"title"`
	Chunks    int             `json:"chunks"`
	IndexedAt time.Time       `json:"indexed_at"`
}

// Registry is the JSON-file-backed document catalog. It assigns document
// ids and maps them back to source paths.
type Registry struct {
	root string
	mu   sync.RWMutex
}

func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

func (r *Registry) indexPath() string {
	return filepath.Join(r.root, "documents.json")
}

func (r *Registry) load() ([]*Document, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read document index: %w", err)
	}
	var docs []*Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("unmarshal document index: %w", err)
	}
	return docs, nil
}

func (r *Registry) save(docs []*Document) error {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document index: %w", err)
	}
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := r.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, r.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Upsert registers a document by path, reusing the existing id when the
// path is already known.
func (r *Registry) Upsert(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.load()
	if err != nil {
		return err
	}

	// Document ids are small decimal strings so they stay easy to type
	// on the command line.
	var maxID int64
	for i, existing := range docs {
		if n, err := strconv.ParseInt(string(existing.ID), 10, 64); err == nil && n > maxID {
			maxID = n
		}
		if existing.Path == doc.Path {
			doc.ID = existing.ID
			docs[i] = doc
			return r.save(docs)
		}
	}
	doc.ID = types.SubjectID(strconv.FormatInt(maxID+1, 10))
	return r.save(append(docs, doc))
}

// ByPath returns the registered document for a source path.
func (r *Registry) ByPath(_ context.Context, path string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.Path == path {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("document not registered: %s", path)
}

// Get returns the registered document by id.
func (r *Registry) Get(_ context.Context, id types.SubjectID) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("document not registered: %s", id)
}

// List returns all registered documents.
func (r *Registry) List(_ context.Context) ([]*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load()
}

// Remove drops a document from the catalog.
func (r *Registry) Remove(_ context.Context, id types.SubjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.load()
	if err != nil {
		return err
	}
	out := docs[:0]
	for _, doc := range docs {
		if doc.ID != id {
			out = append(out, doc)
		}
	}
	return r.save(out)
}
