// internal/vectorsearch/search.go
package vectorsearch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/user/docchat/internal/types"
)

// DefaultTopK bounds result sets when a query does not set TopK.
const DefaultTopK = 5

// supportedDims are the embedding sizes the similarity path accepts. Any
// other size selects the unranked fallback.
var supportedDims = map[int]struct{}{
	384:  {},
	768:  {},
	1536: {},
	3072: {},
}

// Annotation is an embedded chunk of a document stored in an index.
type Annotation struct {
	ID         string            `json:"id"`
	DocumentID types.SubjectID   `json:"document_id"`
	CorpusID   types.SubjectID   `json:"corpus_id,omitempty"`
	CreatorID  types.UserID      `json:"creator_id,omitempty"`
	Content    string            `json:"content"`
	Labels     map[string]string `json:"labels,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
}

// FilterOp selects how a metadata filter matches.
type FilterOp string

const (
	FilterExact    FilterOp = "exact"
	FilterContains FilterOp = "contains"
)

// MetadataFilter narrows the candidate set by label value or, with an
// empty label, by annotation text.
type MetadataFilter struct {
	Label string   `json:"label,omitempty"`
	Value string   `json:"value"`
	Op    FilterOp `json:"op"`
}

// Query carries either text to embed or a precomputed embedding.
type Query struct {
	Text      string           `json:"query_text,omitempty"`
	Embedding []float32        `json:"query_embedding,omitempty"`
	TopK      int              `json:"similarity_top_k"`
	Filters   []MetadataFilter `json:"filters,omitempty"`
}

// Result is one retrieval hit.
type Result struct {
	AnnotationID string         `json:"annotation_id"`
	Content      string         `json:"content"`
	Score        float64        `json:"similarity_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BaseFilter is the subject-scoped candidate selection applied before
// metadata filters.
type BaseFilter struct {
	SubjectKind types.SubjectKind
	SubjectID   types.SubjectID
	CreatorID   types.UserID
}

// Index stores annotations and returns the subject-filtered candidate set.
type Index interface {
	Add(ctx context.Context, annotations []Annotation) error
	Candidates(ctx context.Context, filter BaseFilter) ([]Annotation, error)
	DeleteDocument(ctx context.Context, docID types.SubjectID) error
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the retrieval core for one subject. Embedding failures and
// dimension mismatches never raise past this boundary; they select the
// documented unranked fallback.
type Searcher struct {
	index    Index
	embedder Embedder
	subject  types.Subject
}

func NewSearcher(index Index, embedder Embedder, subject types.Subject) *Searcher {
	return &Searcher{index: index, embedder: embedder, subject: subject}
}

// Search runs the filtered, optionally ranked retrieval described by the
// query. The only error it returns is an index failure.
func (s *Searcher) Search(ctx context.Context, q Query) ([]Result, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	candidates, err := s.index.Candidates(ctx, BaseFilter{
		SubjectKind: s.subject.Kind,
		SubjectID:   s.subject.ID,
		CreatorID:   s.subject.CreatorID,
	})
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	candidates = applyFilters(candidates, q.Filters)

	embedding := q.Embedding
	if len(embedding) == 0 && q.Text != "" && s.embedder != nil {
		embedding, err = s.embedder.Embed(ctx, q.Text)
		if err != nil {
			slog.Warn("embedding generation failed, falling back to unranked retrieval", "error", err)
			embedding = nil
		}
	}

	if len(embedding) > 0 {
		if _, ok := supportedDims[len(embedding)]; !ok {
			slog.Warn("unsupported embedding dimension, falling back to unranked retrieval",
				"dimension", len(embedding))
			embedding = nil
		}
	}

	if len(embedding) == 0 {
		// Deliberate degradation: the filtered set truncated to topK with
		// no ranking.
		if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		return toResults(candidates, nil), nil
	}

	type scored struct {
		ann   Annotation
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, ann := range candidates {
		if len(ann.Embedding) != len(embedding) {
			continue
		}
		ranked = append(ranked, scored{ann: ann, score: cosineSimilarity(embedding, ann.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	anns := make([]Annotation, len(ranked))
	scores := make([]float64, len(ranked))
	for i, r := range ranked {
		anns[i] = r.ann
		scores[i] = r.score
	}
	return toResults(anns, scores), nil
}

// SourceNodes converts results into the event-facing source shape.
func SourceNodes(results []Result) []types.SourceNode {
	nodes := make([]types.SourceNode, len(results))
	for i, r := range results {
		nodes[i] = types.SourceNode{
			AnnotationID: r.AnnotationID,
			Content:      r.Content,
			Metadata:     r.Metadata,
			Score:        r.Score,
		}
	}
	return nodes
}

func applyFilters(candidates []Annotation, filters []MetadataFilter) []Annotation {
	if len(filters) == 0 {
		return candidates
	}
	out := candidates[:0:0]
	for _, ann := range candidates {
		if matchesFilters(ann, filters) {
			out = append(out, ann)
		}
	}
	return out
}

func matchesFilters(ann Annotation, filters []MetadataFilter) bool {
	for _, f := range filters {
		target := ann.Content
		if f.Label != "" {
			target = ann.Labels[f.Label]
		}
		switch f.Op {
		case FilterContains:
			if !strings.Contains(target, f.Value) {
				return false
			}
		default:
			if target != f.Value {
				return false
			}
		}
	}
	return true
}

func toResults(anns []Annotation, scores []float64) []Result {
	results := make([]Result, len(anns))
	for i, ann := range anns {
		metadata := map[string]any{
			"document_id": string(ann.DocumentID),
		}
		for k, v := range ann.Labels {
			metadata[k] = v
		}
		var score float64
		if scores != nil {
			score = scores[i]
		}
		results[i] = Result{
			AnnotationID: ann.ID,
			Content:      ann.Content,
			Score:        score,
			Metadata:     metadata,
		}
	}
	return results
}

// cosineSimilarity computes the cosine of the angle between two vectors of
// equal length.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
