package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "report.md", "# Annual Report\n\nRevenue grew 12%.")

	title, text, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if title != "Annual Report" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(text, "Revenue grew 12%.") {
		t.Errorf("text = %q", text)
	}
}

func TestLoadPlainTextTitleFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "meeting-notes.txt", "Discussed the budget.")

	title, text, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if title != "meeting-notes" {
		t.Errorf("title = %q", title)
	}
	if text != "Discussed the budget." {
		t.Errorf("text = %q", text)
	}
}

func TestLoadHTMLConvertsToMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "page.html",
		"<html><body><h1>Quarterly Update</h1><p>Margins <strong>improved</strong>.</p></body></html>")

	title, text, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if title != "Quarterly Update" {
		t.Errorf("title = %q", title)
	}
	if strings.Contains(text, "<p>") || strings.Contains(text, "<strong>") {
		t.Errorf("html tags survived conversion: %q", text)
	}
	if !strings.Contains(text, "improved") {
		t.Errorf("content lost in conversion: %q", text)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "binary.pdf", "%PDF-1.4")

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadable(t *testing.T) {
	cases := map[string]bool{
		"a.md":   true,
		"a.txt":  true,
		"a.HTML": true,
		"a.htm":  true,
		"a.pdf":  false,
		"a":      false,
	}
	for path, want := range cases {
		if got := Loadable(path); got != want {
			t.Errorf("Loadable(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestRegistryAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry(t.TempDir())
	ctx := context.Background()

	first := &Document{Path: "/docs/a.md", Title: "A"}
	second := &Document{Path: "/docs/b.md", Title: "B"}
	if err := r.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}

	if first.ID != "1" || second.ID != "2" {
		t.Errorf("ids = %q, %q; want 1, 2", first.ID, second.ID)
	}
}

func TestRegistryUpsertReusesIDForSamePath(t *testing.T) {
	r := NewRegistry(t.TempDir())
	ctx := context.Background()

	doc := &Document{Path: "/docs/a.md", Title: "A", Chunks: 3}
	if err := r.Upsert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	reindexed := &Document{Path: "/docs/a.md", Title: "A v2", Chunks: 5}
	if err := r.Upsert(ctx, reindexed); err != nil {
		t.Fatal(err)
	}

	if reindexed.ID != doc.ID {
		t.Errorf("re-index changed the id: %q -> %q", doc.ID, reindexed.ID)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 document, got %d", len(list))
	}
	if list[0].Title != "A v2" || list[0].Chunks != 5 {
		t.Errorf("upsert did not replace the entry: %+v", list[0])
	}
}

func TestRegistryGetAndByPath(t *testing.T) {
	r := NewRegistry(t.TempDir())
	ctx := context.Background()

	doc := &Document{Path: "/docs/a.md", Title: "A"}
	if err := r.Upsert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	byID, err := r.Get(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byID.Path != "/docs/a.md" {
		t.Errorf("Get returned %+v", byID)
	}

	byPath, err := r.ByPath(ctx, "/docs/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if byPath.ID != doc.ID {
		t.Errorf("ByPath returned %+v", byPath)
	}

	if _, err := r.Get(ctx, "404"); err == nil {
		t.Error("expected error for unknown id")
	}
	if _, err := r.ByPath(ctx, "/docs/missing.md"); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(t.TempDir())
	ctx := context.Background()

	a := &Document{Path: "/docs/a.md", Title: "A"}
	b := &Document{Path: "/docs/b.md", Title: "B"}
	if err := r.Upsert(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	list, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("unexpected catalog after remove: %+v", list)
	}

	// Ids do not get reused after a removal at the tail.
	c := &Document{Path: "/docs/c.md", Title: "C"}
	if err := r.Upsert(ctx, c); err != nil {
		t.Fatal(err)
	}
	if c.ID != "3" {
		t.Errorf("expected id 3 after removing 1, got %q", c.ID)
	}
}

func TestChunkerGroupsParagraphs(t *testing.T) {
	c, err := NewChunker(100, 10)
	if err != nil {
		t.Fatal(err)
	}

	text := "First paragraph about revenue.\n\nSecond paragraph about margins.\n\nThird paragraph about headcount."
	chunks := c.Chunk(text)
	if len(chunks) != 1 {
		t.Fatalf("short paragraphs should group into one chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0], "revenue") || !strings.Contains(chunks[0], "headcount") {
		t.Errorf("chunk lost paragraphs: %q", chunks[0])
	}
}

func TestChunkerSplitsOnBudget(t *testing.T) {
	c, err := NewChunker(30, 5)
	if err != nil {
		t.Fatal(err)
	}

	para := strings.Repeat("some words about the business ", 10)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := c.count(chunk); n > 30 {
			t.Errorf("chunk %d has %d tokens, budget is 30", i, n)
		}
	}
}

func TestChunkerOversizedParagraphWindows(t *testing.T) {
	c, err := NewChunker(20, 5)
	if err != nil {
		t.Fatal(err)
	}

	// One paragraph far over budget forces the sliding-window path.
	para := strings.Repeat("alpha beta gamma delta ", 20)
	chunks := c.Chunk(para)
	if len(chunks) < 3 {
		t.Fatalf("expected windowed chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if n := c.count(chunk); n > 20 {
			t.Errorf("chunk %d has %d tokens, budget is 20", i, n)
		}
	}
}

func TestChunkerEmptyText(t *testing.T) {
	c, err := NewChunker(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if chunks := c.Chunk("   \n\n  "); len(chunks) != 0 {
		t.Errorf("expected no chunks for blank text, got %d", len(chunks))
	}
}
