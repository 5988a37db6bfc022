package ingest

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultChunkTokens is the target chunk size in tokens.
	DefaultChunkTokens = 400
	// DefaultOverlapTokens is how many tokens consecutive chunks share.
	DefaultOverlapTokens = 50
)

// Chunker splits document text into token-bounded chunks on paragraph
// boundaries, with a sliding-window fallback for oversized paragraphs.
type Chunker struct {
	tokenizer   *tiktoken.Tiktoken
	chunkTokens int
	overlap     int
}

func NewChunker(chunkTokens, overlap int) (*Chunker, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	if overlap < 0 || overlap >= chunkTokens {
		overlap = DefaultOverlapTokens
	}
	return &Chunker{tokenizer: enc, chunkTokens: chunkTokens, overlap: overlap}, nil
}

// Chunk splits text into chunks of at most chunkTokens tokens.
func (c *Chunker) Chunk(text string) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current.Reset()
		currentTokens = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		cost := c.count(para)

		if cost > c.chunkTokens {
			flush()
			chunks = append(chunks, c.split(para)...)
			continue
		}
		if currentTokens+cost > c.chunkTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += cost
	}
	flush()
	return chunks
}

// split windows one oversized paragraph across token boundaries with
// overlap between consecutive windows.
func (c *Chunker) split(text string) []string {
	tokens := c.tokenizer.Encode(text, nil, nil)
	var chunks []string
	step := c.chunkTokens - c.overlap
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.TrimSpace(c.tokenizer.Decode(tokens[start:end])))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

func (c *Chunker) count(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}
