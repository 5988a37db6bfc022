package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/vectorsearch"
)

// maxReadChars caps how much document text a single read returns.
const maxReadChars = 20000

// ReadDocument returns the full indexed text of one document, assembled
// from its annotations in storage order. It runs without approval.
type ReadDocument struct {
	index vectorsearch.Index
}

func NewReadDocument(index vectorsearch.Index) *ReadDocument {
	return &ReadDocument{index: index}
}

func (t *ReadDocument) Name() string { return "read_document" }
func (t *ReadDocument) Description() string {
	return "Read the full text of a document by its id"
}
func (t *ReadDocument) RequiresApproval() bool { return false }

func (t *ReadDocument) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"document_id": {"type": "string", "description": "The id of the document to read"}
		},
		"required": ["document_id"]
	}`)
}

func (t *ReadDocument) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.DocumentID == "" {
		return "", fmt.Errorf("document_id is required")
	}

	annotations, err := t.index.Candidates(ctx, vectorsearch.BaseFilter{
		SubjectKind: types.SubjectDocument,
		SubjectID:   types.SubjectID(params.DocumentID),
	})
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	if len(annotations) == 0 {
		return fmt.Sprintf("Document %s has no indexed content.", params.DocumentID), nil
	}

	var sb strings.Builder
	for _, ann := range annotations {
		sb.WriteString(ann.Content)
		sb.WriteString("\n\n")
		if sb.Len() > maxReadChars {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if len(text) > maxReadChars {
		text = text[:maxReadChars] + "\n\n[truncated]"
	}
	return text, nil
}
