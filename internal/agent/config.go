// internal/agent/config.go
package agent

// Config holds the immutable run parameters bound to one agent instance.
// It is copied at construction and never mutated afterwards.
type Config struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
	EmbedderID   string
	ToolNames    []string
	Streaming    bool
	TopK         int
	MaxRounds    int

	StoreUserMessages bool
	StoreLLMMessages  bool
}

// clone deep-copies the config so the agent owns its parameters.
func (c Config) clone() Config {
	out := c
	out.ToolNames = append([]string(nil), c.ToolNames...)
	return out
}
