package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/docchat/internal/agent"
	"github.com/user/docchat/internal/agent/tools"
	"github.com/user/docchat/internal/config"
	"github.com/user/docchat/internal/ingest"
	"github.com/user/docchat/internal/prompt"
	"github.com/user/docchat/internal/state"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/vectorsearch"
	"github.com/user/docchat/pkg/llm"
	"github.com/user/docchat/pkg/llm/openai"
)

// app holds the shared infrastructure commands build agents from.
type app struct {
	cfg           *config.Config
	conversations *state.ConversationStore
	messages      *state.MessageStore
	index         vectorsearch.Index
	embedder      vectorsearch.Embedder
	provider      llm.Provider
	prompts       *prompt.Builder
	documents     *ingest.Registry
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var index vectorsearch.Index
	switch cfg.Vector.Backend {
	case "memory":
		index = vectorsearch.NewMemoryIndex()
	default:
		var err error
		index, err = vectorsearch.NewSQLiteIndex(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}

	prompts, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return nil, fmt.Errorf("create prompt builder: %w", err)
	}

	return &app{
		cfg:           cfg,
		conversations: state.NewConversationStore(cfg.DataDir),
		messages:      state.NewMessageStore(cfg.DataDir),
		index:         index,
		embedder:      vectorsearch.NewHTTPEmbedder(cfg.Embedder.BaseURL, cfg.Embedder.Model),
		provider: openai.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}),
		prompts:   prompts,
		documents: ingest.NewRegistry(cfg.DataDir),
	}, nil
}

// agentFor builds an agent bound to one user, subject, and conversation.
func (a *app) agentFor(
	ctx context.Context,
	engine string,
	user types.UserID,
	subject types.Subject,
	conversationID types.ConversationID,
) (agent.CoreAgent, error) {
	searcher := vectorsearch.NewSearcher(a.index, a.embedder, subject)

	registry := agent.NewRegistry()
	registry.Register(tools.NewSearchDocuments(searcher))
	registry.Register(tools.NewReadDocument(a.index))
	registry.Register(tools.NewSaveNote(filepath.Join(a.cfg.DataDir, "notes")))

	if engine == "" {
		engine = a.cfg.Engine
	}
	return agent.New(ctx, engine, a.agentConfig(user), user, subject, conversationID, agent.Deps{
		Provider:      a.provider,
		Conversations: a.conversations,
		Messages:      a.messages,
		Registry:      registry,
		Retriever:     searcher,
		Prompts:       a.prompts,
	})
}

func (a *app) agentConfig(user types.UserID) agent.Config {
	return agent.Config{
		Model:             a.cfg.LLM.Model,
		Temperature:       a.cfg.LLM.Temperature,
		MaxTokens:         a.cfg.LLM.MaxTokens,
		SystemPrompt:      a.cfg.SystemPrompt,
		Streaming:         a.cfg.LLM.Streaming,
		TopK:              a.cfg.Vector.TopK,
		MaxRounds:         a.cfg.MaxToolRounds,
		StoreUserMessages: user != "",
		StoreLLMMessages:  user != "",
	}
}

// indexer builds the ingestion pipeline over the app's index.
func (a *app) indexer() (*ingest.Indexer, error) {
	chunker, err := ingest.NewChunker(a.cfg.Ingest.ChunkTokens, a.cfg.Ingest.OverlapTokens)
	if err != nil {
		return nil, fmt.Errorf("create chunker: %w", err)
	}
	return ingest.NewIndexer(a.documents, chunker, a.embedder, a.index, "", ""), nil
}
