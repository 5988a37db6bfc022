// internal/agent/factory.go
package agent

import (
	"context"
	"fmt"

	"github.com/user/docchat/internal/convo"
	"github.com/user/docchat/internal/prompt"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/vectorsearch"
	"github.com/user/docchat/pkg/llm"
)

// Engine names accepted by New.
const (
	EngineFuncCall = "funccall"
	EngineReAct    = "react"
)

// Deps bundles the shared infrastructure an agent is built from.
type Deps struct {
	Provider      llm.Provider
	Conversations types.ConversationStore
	Messages      types.MessageStore
	Registry      *Registry
	Retriever     *vectorsearch.Searcher
	Prompts       *prompt.Builder
}

// New builds an agent for the named engine, binding it to a conversation
// manager for the given user and subject. An empty engine name selects
// the function-call engine.
func New(
	ctx context.Context,
	engineName string,
	config Config,
	user types.UserID,
	subject types.Subject,
	conversationID types.ConversationID,
	deps Deps,
) (*Agent, error) {
	manager, err := convo.NewManager(ctx, deps.Conversations, deps.Messages, user, subject, convo.Options{
		ConversationID:      conversationID,
		DisableUserMessages: !config.StoreUserMessages,
		DisableLLMMessages:  !config.StoreLLMMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("bind conversation: %w", err)
	}

	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	if len(config.ToolNames) > 0 {
		registry = subsetRegistry(registry, config.ToolNames)
	}

	var engine Engine
	switch engineName {
	case "", EngineFuncCall:
		engine = NewFuncCallEngine(deps.Provider, registry, config.MaxRounds, config.Streaming)
	case EngineReAct:
		engine = NewReActEngine(deps.Provider, registry, config.MaxRounds)
	default:
		return nil, fmt.Errorf("%w: %q", ErrMissingEngine, engineName)
	}

	return NewAgent(config, subject, manager, engine, registry, deps.Retriever, deps.Prompts)
}

// subsetRegistry narrows a registry to the named tools; unknown names are
// skipped.
func subsetRegistry(r *Registry, names []string) *Registry {
	out := NewRegistry()
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			out.Register(t)
		}
	}
	return out
}
