package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var noteMu sync.Mutex

// SaveNote appends a user note about the current subject to a notes file
// on disk. Writing outside conversation state is gated: every invocation
// pauses the turn for explicit approval.
type SaveNote struct {
	dir string
}

func NewSaveNote(dir string) *SaveNote {
	return &SaveNote{dir: dir}
}

func (t *SaveNote) Name() string { return "save_note" }
func (t *SaveNote) Description() string {
	return "Save a note about the current document for later reference"
}
func (t *SaveNote) RequiresApproval() bool { return true }

func (t *SaveNote) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The note to save"}
		},
		"required": ["content"]
	}`)
}

func (t *SaveNote) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Content == "" {
		return "", fmt.Errorf("content is required")
	}

	noteMu.Lock()
	defer noteMu.Unlock()

	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return "", fmt.Errorf("create notes dir: %w", err)
	}
	path := filepath.Join(t.dir, "notes.md")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	line := "- " + strings.TrimSpace(params.Content)
	for _, l := range strings.Split(string(existing), "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), line+" (") {
			return "Note already exists: " + params.Content, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s (%s)\n", line, time.Now().Format("2006-01-02")); err != nil {
		return "", err
	}
	return "Saved note: " + params.Content, nil
}
