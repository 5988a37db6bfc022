// internal/vectorsearch/index_memory.go
package vectorsearch

import (
	"context"
	"sync"

	"github.com/user/docchat/internal/types"
)

// MemoryIndex is an in-memory annotation index. Suitable for tests and
// small single-process deployments; the SQLite index is the persistent
// drop-in.
type MemoryIndex struct {
	mu          sync.RWMutex
	annotations map[string]Annotation       // annotation ID -> annotation
	docs        map[types.SubjectID][]string // document ID -> annotation IDs
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		annotations: make(map[string]Annotation),
		docs:        make(map[types.SubjectID][]string),
	}
}

// Add stores annotations, keyed by ID.
func (m *MemoryIndex) Add(_ context.Context, annotations []Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ann := range annotations {
		m.annotations[ann.ID] = ann
		m.docs[ann.DocumentID] = append(m.docs[ann.DocumentID], ann.ID)
	}
	return nil
}

// Candidates returns the subject- and creator-filtered set in insertion
// order per document.
func (m *MemoryIndex) Candidates(_ context.Context, filter BaseFilter) ([]Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Annotation
	appendMatch := func(ann Annotation) {
		if filter.CreatorID != "" && ann.CreatorID != "" && ann.CreatorID != filter.CreatorID {
			return
		}
		out = append(out, ann)
	}

	if filter.SubjectKind == types.SubjectDocument {
		for _, id := range m.docs[filter.SubjectID] {
			appendMatch(m.annotations[id])
		}
		return out, nil
	}
	for _, ann := range m.annotations {
		if filter.SubjectID != "" && ann.CorpusID != filter.SubjectID {
			continue
		}
		appendMatch(ann)
	}
	return out, nil
}

// DeleteDocument removes every annotation of a document.
func (m *MemoryIndex) DeleteDocument(_ context.Context, docID types.SubjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.docs[docID] {
		delete(m.annotations, id)
	}
	delete(m.docs, docID)
	return nil
}

var _ Index = (*MemoryIndex)(nil)
