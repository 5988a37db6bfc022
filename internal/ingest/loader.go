package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// SupportedExtensions are the file types the loader accepts.
var SupportedExtensions = []string{".txt", ".md", ".html", ".htm"}

// Load reads a source file and returns its title and markdown text. HTML
// is converted to markdown; plain text and markdown pass through.
func Load(path string) (title, text string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read document: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err = htmltomarkdown.ConvertString(string(data))
		if err != nil {
			return "", "", fmt.Errorf("convert to markdown: %w", err)
		}
	case ".txt", ".md":
		text = string(data)
	default:
		return "", "", fmt.Errorf("unsupported document type: %s", filepath.Ext(path))
	}

	return titleOf(path, text), text, nil
}

// Loadable reports whether the loader handles the file's extension.
func Loadable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// titleOf prefers the first markdown heading, falling back to the file
// name without extension.
func titleOf(path, text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
