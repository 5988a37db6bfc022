package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/vectorsearch"
)

// Indexer turns source files into indexed, embedded annotations.
type Indexer struct {
	registry *Registry
	chunker  *Chunker
	embedder vectorsearch.Embedder
	index    vectorsearch.Index
	corpusID types.SubjectID
	creator  types.UserID
}

func NewIndexer(
	registry *Registry,
	chunker *Chunker,
	embedder vectorsearch.Embedder,
	index vectorsearch.Index,
	corpusID types.SubjectID,
	creator types.UserID,
) *Indexer {
	return &Indexer{
		registry: registry,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		corpusID: corpusID,
		creator:  creator,
	}
}

// IndexFile loads, chunks, embeds and indexes one file, replacing any
// previously indexed content for the same document. Embedding failures
// degrade to unembedded annotations; retrieval falls back to unranked
// results for those.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (*Document, error) {
	title, text, err := Load(path)
	if err != nil {
		return nil, err
	}
	chunks := ix.chunker.Chunk(text)

	doc := &Document{
		CorpusID:  ix.corpusID,
		Path:      path,
		Title:     title,
		Chunks:    len(chunks),
		IndexedAt: time.Now(),
	}
	if err := ix.registry.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}

	annotations := make([]vectorsearch.Annotation, 0, len(chunks))
	for i, chunk := range chunks {
		ann := vectorsearch.Annotation{
			ID:         types.NewAnnotationID(),
			DocumentID: doc.ID,
			CorpusID:   ix.corpusID,
			CreatorID:  ix.creator,
			Content:    chunk,
			Labels: map[string]string{
				"title": title,
				"chunk": fmt.Sprintf("%d", i),
			},
		}
		if ix.embedder != nil {
			embedding, err := ix.embedder.Embed(ctx, chunk)
			if err != nil {
				slog.Warn("embedding failed, indexing chunk without vector",
					"path", path, "chunk", i, "error", err)
			} else {
				ann.Embedding = embedding
			}
		}
		annotations = append(annotations, ann)
	}

	// Replace, not append: a re-index drops the stale chunks first.
	if err := ix.index.DeleteDocument(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("clear stale annotations: %w", err)
	}
	if err := ix.index.Add(ctx, annotations); err != nil {
		return nil, fmt.Errorf("index annotations: %w", err)
	}

	slog.Info("indexed document", "path", path, "document_id", string(doc.ID), "chunks", len(chunks))
	return doc, nil
}

// RemoveFile drops a file's document and annotations from the index.
func (ix *Indexer) RemoveFile(ctx context.Context, path string) error {
	doc, err := ix.registry.ByPath(ctx, path)
	if err != nil {
		return err
	}
	if err := ix.index.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete annotations: %w", err)
	}
	if err := ix.registry.Remove(ctx, doc.ID); err != nil {
		return fmt.Errorf("unregister document: %w", err)
	}
	slog.Info("removed document", "path", path, "document_id", string(doc.ID))
	return nil
}

// IndexDir indexes every loadable file directly under dir.
func (ix *Indexer) IndexDir(ctx context.Context, dir string) (int, error) {
	paths, err := loadablePaths(dir)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, path := range paths {
		if _, err := ix.IndexFile(ctx, path); err != nil {
			slog.Warn("failed to index file", "path", path, "error", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}
