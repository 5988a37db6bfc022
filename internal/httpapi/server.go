// Package httpapi exposes the chat, approval, and conversation endpoints
// over HTTP. Chat responses stream as JSON lines, one event per line.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/user/docchat/internal/agent"
	"github.com/user/docchat/internal/gateway"
	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
)

// AgentFactory builds an agent bound to a user, subject, and optionally
// an existing conversation.
type AgentFactory func(
	ctx context.Context,
	engine string,
	user types.UserID,
	subject types.Subject,
	conversationID types.ConversationID,
) (agent.CoreAgent, error)

// Server is the HTTP surface over agents and conversation state. Chat
// turns go through a gateway so turns on the same conversation run in
// order under a global concurrency cap.
type Server struct {
	factory       AgentFactory
	conversations types.ConversationStore
	messages      types.MessageStore
	gw            *gateway.Gateway
	mux           *http.ServeMux

	// Agents keep the approval gate in memory, so a resume must reach
	// the same instance that paused. Instances are cached per binding.
	mu     sync.Mutex
	agents map[string]agent.CoreAgent
}

// NewServer creates the HTTP server around an agent factory and the
// conversation stores. maxConcurrent caps simultaneous turn processing.
func NewServer(factory AgentFactory, conversations types.ConversationStore, messages types.MessageStore, maxConcurrent int64) *Server {
	s := &Server{
		factory:       factory,
		conversations: conversations,
		messages:      messages,
		mux:           http.NewServeMux(),
		agents:        make(map[string]agent.CoreAgent),
	}
	s.gw = gateway.New(s.laneAgent, maxConcurrent)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /chat/resume", s.handleResume)
	s.mux.HandleFunc("GET /api/conversations", s.handleConversations)
	s.mux.HandleFunc("GET /api/conversations/", s.handleConversationMessages)
	return s
}

// Start brings up the gateway queue. Must be called before serving.
func (s *Server) Start(ctx context.Context) {
	s.gw.Start(ctx)
}

// Stop drains the gateway queue.
func (s *Server) Stop() {
	s.gw.Stop()
}

// laneAgent resolves a lane key back to its cached agent. Lanes are
// created by handleChat, which caches the agent first.
func (s *Server) laneAgent(_ context.Context, laneKey string) (agent.CoreAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[laneKey]
	if !ok {
		return nil, fmt.Errorf("no agent for lane %s", laneKey)
	}
	return a, nil
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /chat. An empty user_id runs the
// turn anonymously: no conversation state is written.
type chatRequest struct {
	UserID         string `json:"user_id"`
	SubjectKind    string `json:"subject_kind"`
	SubjectID      string `json:"subject_id"`
	SubjectTitle   string `json:"subject_title"`
	ConversationID int64  `json:"conversation_id"`
	Engine         string `json:"engine"`
	Message        string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" || req.SubjectID == "" {
		http.Error(w, `{"error":"message and subject_id are required"}`, http.StatusBadRequest)
		return
	}

	_, laneKey, err := s.agentFor(r.Context(), req)
	if err != nil {
		slog.Error("agent construction failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	events := make(chan stream.Event, 64)
	_, err = s.gw.HandleInbound(laneKey, req.Message,
		gateway.WithOnEvent(func(ev stream.Event) { events <- ev }),
		gateway.WithOnComplete(func(stream.Event) { close(events) }),
	)
	if err != nil {
		slog.Error("enqueue turn failed", "lane", laneKey, "error", err)
		http.Error(w, `{"error":"service busy"}`, http.StatusServiceUnavailable)
		return
	}
	streamEvents(w, events)
}

// resumeRequest is the JSON body for POST /chat/resume.
type resumeRequest struct {
	chatRequest
	LLMMessageID int64 `json:"llm_message_id"`
	Approved     bool  `json:"approved"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.LLMMessageID == 0 {
		http.Error(w, `{"error":"llm_message_id is required"}`, http.StatusBadRequest)
		return
	}

	a, _, err := s.agentFor(r.Context(), req.chatRequest)
	if err != nil {
		slog.Error("agent construction failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	events, err := a.ResumeWithApproval(r.Context(), types.MessageID(req.LLMMessageID), req.Approved)
	if err != nil {
		slog.Warn("resume rejected", "llm_message_id", req.LLMMessageID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	streamEvents(w, events)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	user := types.UserID(r.URL.Query().Get("user_id"))
	conversations, err := s.conversations.List(r.Context(), user)
	if err != nil {
		slog.Error("list conversations failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []*types.Conversation{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conversations)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	// Path: /api/conversations/{id}/messages
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[1] != "messages" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid conversation id"}`, http.StatusBadRequest)
		return
	}

	messages, err := s.messages.List(r.Context(), types.ConversationID(id))
	if err != nil {
		slog.Error("list messages failed", "conversation_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

// agentFor returns the cached agent for the request's binding, building
// one on first use, along with its lane key. The cache keeps pause state
// reachable across the separate chat and resume requests.
func (s *Server) agentFor(ctx context.Context, req chatRequest) (agent.CoreAgent, string, error) {
	subject := types.Subject{
		Kind:  types.SubjectKind(req.SubjectKind),
		ID:    types.SubjectID(req.SubjectID),
		Title: req.SubjectTitle,
	}
	if subject.Kind == "" {
		subject.Kind = types.SubjectDocument
	}

	key := fmt.Sprintf("%s|%s|%s|%s|%d", req.Engine, req.UserID, subject.Kind, subject.ID, req.ConversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[key]; ok {
		return a, key, nil
	}
	a, err := s.factory(ctx, req.Engine, types.UserID(req.UserID), subject, types.ConversationID(req.ConversationID))
	if err != nil {
		return nil, "", err
	}
	s.agents[key] = a
	return a, key, nil
}

// streamEvents writes each event as one JSON line, flushing after every
// line so clients see deltas as they happen. The channel is drained to
// the end even after a write failure so the producer never blocks.
func streamEvents(w http.ResponseWriter, events <-chan stream.Event) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	writable := true
	for ev := range events {
		if !writable {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			writable = false
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
