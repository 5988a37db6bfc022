// internal/vectorsearch/index_sqlite.go
package vectorsearch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/user/docchat/internal/types"
)

// SQLiteIndex is a persistent annotation index. Embeddings and labels are
// stored as JSON columns; similarity ranking happens in the Searcher, so
// the index only serves filtered candidate sets.
type SQLiteIndex struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index database under dataDir.
func NewSQLiteIndex(dataDir string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "annotations.db"))
	if err != nil {
		return nil, fmt.Errorf("open annotations db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS annotations (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		corpus_id TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		labels TEXT NOT NULL DEFAULT '{}',
		embedding TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_annotations_document ON annotations(document_id);
	CREATE INDEX IF NOT EXISTS idx_annotations_corpus ON annotations(corpus_id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Add upserts annotations.
func (s *SQLiteIndex) Add(ctx context.Context, annotations []Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO annotations
		(id, document_id, corpus_id, creator_id, content, labels, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ann := range annotations {
		labels, err := json.Marshal(ann.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels: %w", err)
		}
		embedding, err := json.Marshal(ann.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ann.ID, string(ann.DocumentID), string(ann.CorpusID),
			string(ann.CreatorID), ann.Content, string(labels), string(embedding),
		); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
	}
	return tx.Commit()
}

// Candidates returns the subject- and creator-filtered set.
func (s *SQLiteIndex) Candidates(ctx context.Context, filter BaseFilter) ([]Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, document_id, corpus_id, creator_id, content, labels, embedding
		FROM annotations WHERE 1=1`
	var args []any
	if filter.SubjectKind == types.SubjectDocument {
		query += " AND document_id = ?"
		args = append(args, string(filter.SubjectID))
	} else if filter.SubjectID != "" {
		query += " AND corpus_id = ?"
		args = append(args, string(filter.SubjectID))
	}
	if filter.CreatorID != "" {
		query += " AND (creator_id = '' OR creator_id = ?)"
		args = append(args, string(filter.CreatorID))
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		var ann Annotation
		var docID, corpusID, creatorID, labels, embedding string
		if err := rows.Scan(&ann.ID, &docID, &corpusID, &creatorID, &ann.Content, &labels, &embedding); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		ann.DocumentID = types.SubjectID(docID)
		ann.CorpusID = types.SubjectID(corpusID)
		ann.CreatorID = types.UserID(creatorID)
		if err := json.Unmarshal([]byte(labels), &ann.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &ann.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		out = append(out, ann)
	}
	return out, rows.Err()
}

// DeleteDocument removes every annotation of a document.
func (s *SQLiteIndex) DeleteDocument(ctx context.Context, docID types.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM annotations WHERE document_id = ?", string(docID)); err != nil {
		return fmt.Errorf("delete document annotations: %w", err)
	}
	return nil
}

var _ Index = (*SQLiteIndex)(nil)
