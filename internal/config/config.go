package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	DocsDir       string `json:"docs_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxToolRounds int    `json:"max_tool_rounds"`
	Engine        string `json:"engine"`
	SystemPrompt  string `json:"system_prompt"`
	LLM           struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		Streaming        bool    `json:"streaming"`
	} `json:"llm"`
	Embedder struct {
		BaseURL string `json:"base_url"`
		Model   string `json:"model"`
	} `json:"embedder"`
	Vector struct {
		Backend string `json:"backend"`
		TopK    int    `json:"top_k"`
	} `json:"vector"`
	Ingest struct {
		ChunkTokens     int    `json:"chunk_tokens"`
		OverlapTokens   int    `json:"overlap_tokens"`
		Watch           bool   `json:"watch"`
		ReindexSchedule string `json:"reindex_schedule"`
	} `json:"ingest"`
	HTTP struct {
		Addr string `json:"addr"`
	} `json:"http"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".docchat"),
		LogLevel:      "info",
		MaxConcurrent: 2,
		MaxToolRounds: 10,
		Engine:        "funccall",
	}
	cfg.DocsDir = filepath.Join(cfg.DataDir, "docs")
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.Streaming = true
	cfg.Embedder.BaseURL = "http://localhost:11434"
	cfg.Embedder.Model = "nomic-embed-text"
	cfg.Vector.Backend = "sqlite"
	cfg.Vector.TopK = 5
	cfg.Ingest.ChunkTokens = 400
	cfg.Ingest.OverlapTokens = 50
	cfg.HTTP.Addr = ":8085"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if dataDir := os.Getenv("DOCCHAT_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Save writes the config atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
