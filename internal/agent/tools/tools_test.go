package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/vectorsearch"
)

func seedIndex(t *testing.T, anns []vectorsearch.Annotation) *vectorsearch.MemoryIndex {
	t.Helper()
	index := vectorsearch.NewMemoryIndex()
	if err := index.Add(context.Background(), anns); err != nil {
		t.Fatal(err)
	}
	return index
}

func TestSaveNoteGated(t *testing.T) {
	tool := NewSaveNote(t.TempDir())
	if !tool.RequiresApproval() {
		t.Error("save_note must require approval")
	}
	if tool.Name() != "save_note" {
		t.Errorf("name = %q", tool.Name())
	}
}

func TestSaveNoteAppendsDatedLine(t *testing.T) {
	dir := t.TempDir()
	tool := NewSaveNote(dir)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content": "revenue grew 12%"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "Saved note: revenue grew 12%" {
		t.Errorf("result = %q", result)
	}

	data, err := os.ReadFile(filepath.Join(dir, "notes.md"))
	if err != nil {
		t.Fatal(err)
	}
	want := "- revenue grew 12% (" + time.Now().Format("2006-01-02") + ")\n"
	if string(data) != want {
		t.Errorf("notes file = %q, want %q", data, want)
	}
}

func TestSaveNoteDeduplicates(t *testing.T) {
	dir := t.TempDir()
	tool := NewSaveNote(dir)
	args := json.RawMessage(`{"content": "margins improved"}`)

	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if result != "Note already exists: margins improved" {
		t.Errorf("result = %q", result)
	}

	data, err := os.ReadFile(filepath.Join(dir, "notes.md"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "margins improved"); n != 1 {
		t.Errorf("note appears %d times, want 1", n)
	}
}

func TestSaveNoteRequiresContent(t *testing.T) {
	tool := NewSaveNote(t.TempDir())
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestSearchDocumentsFormatsResults(t *testing.T) {
	index := seedIndex(t, []vectorsearch.Annotation{
		{ID: "a1", DocumentID: "7", Content: "Revenue grew 12% in Q3."},
		{ID: "a2", DocumentID: "7", Content: "Headcount stayed flat."},
	})
	subject := types.Subject{Kind: types.SubjectDocument, ID: "7"}
	tool := NewSearchDocuments(vectorsearch.NewSearcher(index, nil, subject))

	if tool.RequiresApproval() {
		t.Error("search_documents must not require approval")
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "revenue"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result, "[1] (a1, score 0.000)") {
		t.Errorf("result = %q", result)
	}
	if !strings.Contains(result, "Revenue grew 12% in Q3.") {
		t.Errorf("result = %q", result)
	}
}

func TestSearchDocumentsNoMatches(t *testing.T) {
	subject := types.Subject{Kind: types.SubjectDocument, ID: "7"}
	tool := NewSearchDocuments(vectorsearch.NewSearcher(vectorsearch.NewMemoryIndex(), nil, subject))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "anything"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result != "No matching passages found." {
		t.Errorf("result = %q", result)
	}
}

func TestSearchDocumentsRequiresQuery(t *testing.T) {
	subject := types.Subject{Kind: types.SubjectDocument, ID: "7"}
	tool := NewSearchDocuments(vectorsearch.NewSearcher(vectorsearch.NewMemoryIndex(), nil, subject))

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestReadDocumentAssemblesChunks(t *testing.T) {
	index := seedIndex(t, []vectorsearch.Annotation{
		{ID: "a1", DocumentID: "7", Content: "First chunk."},
		{ID: "a2", DocumentID: "7", Content: "Second chunk."},
		{ID: "b1", DocumentID: "8", Content: "Other document."},
	})
	tool := NewReadDocument(index)

	if tool.RequiresApproval() {
		t.Error("read_document must not require approval")
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"document_id": "7"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "First chunk.\n\nSecond chunk." {
		t.Errorf("result = %q", result)
	}
}

func TestReadDocumentEmpty(t *testing.T) {
	tool := NewReadDocument(vectorsearch.NewMemoryIndex())

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"document_id": "404"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result != "Document 404 has no indexed content." {
		t.Errorf("result = %q", result)
	}
}

func TestReadDocumentTruncatesLongDocuments(t *testing.T) {
	chunk := strings.Repeat("x", 6000)
	index := seedIndex(t, []vectorsearch.Annotation{
		{ID: "a1", DocumentID: "7", Content: chunk},
		{ID: "a2", DocumentID: "7", Content: chunk},
		{ID: "a3", DocumentID: "7", Content: chunk},
		{ID: "a4", DocumentID: "7", Content: chunk},
		{ID: "a5", DocumentID: "7", Content: chunk},
	})
	tool := NewReadDocument(index)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"document_id": "7"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(result, "[truncated]") {
		t.Error("expected truncation marker")
	}
	if len(result) > maxReadChars+len("\n\n[truncated]") {
		t.Errorf("result length %d exceeds cap", len(result))
	}
}
