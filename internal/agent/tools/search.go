// Package tools provides the built-in tool implementations registered
// with an agent's tool registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/docchat/internal/vectorsearch"
)

// SearchDocuments retrieves annotation chunks relevant to a query from
// the agent's subject. It runs without approval.
type SearchDocuments struct {
	searcher *vectorsearch.Searcher
}

func NewSearchDocuments(searcher *vectorsearch.Searcher) *SearchDocuments {
	return &SearchDocuments{searcher: searcher}
}

func (t *SearchDocuments) Name() string { return "search_documents" }
func (t *SearchDocuments) Description() string {
	return "Search the current document or corpus for passages relevant to a query"
}
func (t *SearchDocuments) RequiresApproval() bool { return false }

func (t *SearchDocuments) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to search for"},
			"top_k": {"type": "integer", "description": "Maximum number of passages to return"}
		},
		"required": ["query"]
	}`)
}

func (t *SearchDocuments) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := t.searcher.Search(ctx, vectorsearch.Query{
		Text: params.Query,
		TopK: params.TopK,
	})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		return "No matching passages found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] (%s, score %.3f)\n%s\n\n", i+1, r.AnnotationID, r.Score, r.Content)
	}
	return strings.TrimSpace(sb.String()), nil
}
