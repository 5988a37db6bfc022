package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/docchat/internal/agent"
	"github.com/user/docchat/internal/state"
	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
)

// stubAgent streams a fixed event sequence and records resume calls.
type stubAgent struct {
	events       []stream.Event
	resumeEvents []stream.Event
	resumeErr    error
	streamCalls  int
	resumeCalls  int
}

func (a *stubAgent) Chat(ctx context.Context, message string) (*agent.ChatResult, error) {
	return &agent.ChatResult{}, nil
}

func (a *stubAgent) Stream(ctx context.Context, message string) (<-chan stream.Event, error) {
	a.streamCalls++
	return eventChannel(a.events), nil
}

func (a *stubAgent) ResumeWithApproval(ctx context.Context, id types.MessageID, approved bool) (<-chan stream.Event, error) {
	a.resumeCalls++
	if a.resumeErr != nil {
		return nil, a.resumeErr
	}
	return eventChannel(a.resumeEvents), nil
}

func (a *stubAgent) Messages(ctx context.Context) ([]*types.Message, error) { return nil, nil }
func (a *stubAgent) Conversation() *types.Conversation                     { return nil }

func eventChannel(events []stream.Event) <-chan stream.Event {
	ch := make(chan stream.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func newTestServer(t *testing.T, a agent.CoreAgent) *Server {
	t.Helper()
	dir := t.TempDir()
	factory := func(context.Context, string, types.UserID, types.Subject, types.ConversationID) (agent.CoreAgent, error) {
		if a == nil {
			return nil, errors.New("no agent configured")
		}
		return a, nil
	}
	s := NewServer(factory, state.NewConversationStore(dir), state.NewMessageStore(dir), 2)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeNDJSON(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubAgent{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestChatStreamsNDJSON(t *testing.T) {
	a := &stubAgent{events: []stream.Event{
		{Type: stream.EventContent, Content: "the "},
		{Type: stream.EventContent, Content: "answer"},
		{Type: stream.EventFinal, AccumulatedContent: "the answer"},
	}}
	s := newTestServer(t, a)

	w := postJSON(t, s, "/chat", map[string]any{
		"user_id":    "alice",
		"subject_id": "7",
		"message":    "what is this about?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	events := decodeNDJSON(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != stream.EventFinal || last.CanonicalText() != "the answer" {
		t.Errorf("final event = %+v", last)
	}
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t, &stubAgent{})

	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "missing message", body: map[string]any{"subject_id": "7"}},
		{name: "missing subject", body: map[string]any{"message": "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, s, "/chat", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestChatAgentReusedAcrossRequests(t *testing.T) {
	a := &stubAgent{events: []stream.Event{{Type: stream.EventFinal, AccumulatedContent: "hi"}}}
	calls := 0
	dir := t.TempDir()
	factory := func(context.Context, string, types.UserID, types.Subject, types.ConversationID) (agent.CoreAgent, error) {
		calls++
		return a, nil
	}
	s := NewServer(factory, state.NewConversationStore(dir), state.NewMessageStore(dir), 2)
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	body := map[string]any{"user_id": "alice", "subject_id": "7", "message": "hello"}
	postJSON(t, s, "/chat", body)
	postJSON(t, s, "/chat", body)

	if calls != 1 {
		t.Errorf("factory called %d times for the same binding, want 1", calls)
	}
	if a.streamCalls != 2 {
		t.Errorf("agent streamed %d turns, want 2", a.streamCalls)
	}
}

func TestResumeStreams(t *testing.T) {
	a := &stubAgent{resumeEvents: []stream.Event{
		{Type: stream.EventApprovalResult, Decision: stream.DecisionApproved},
		{Type: stream.EventFinal, AccumulatedContent: "resumed"},
	}}
	s := newTestServer(t, a)

	w := postJSON(t, s, "/chat/resume", map[string]any{
		"user_id":        "alice",
		"subject_id":     "7",
		"llm_message_id": 2,
		"approved":       true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	events := decodeNDJSON(t, w.Body.String())
	if len(events) != 2 || events[0].Decision != stream.DecisionApproved {
		t.Errorf("events = %+v", events)
	}
}

func TestResumeConflictWhenNoPendingApproval(t *testing.T) {
	a := &stubAgent{resumeErr: fmt.Errorf("%w: llm_message_id=2", agent.ErrPendingApprovalNotFound)}
	s := newTestServer(t, a)

	w := postJSON(t, s, "/chat/resume", map[string]any{
		"user_id":        "alice",
		"subject_id":     "7",
		"llm_message_id": 2,
		"approved":       true,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body["error"], "pending approval not found") {
		t.Errorf("error = %q", body["error"])
	}
}

func TestResumeRequiresMessageID(t *testing.T) {
	s := newTestServer(t, &stubAgent{})
	w := postJSON(t, s, "/chat/resume", map[string]any{
		"user_id":    "alice",
		"subject_id": "7",
		"approved":   true,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListConversations(t *testing.T) {
	dir := t.TempDir()
	conversations := state.NewConversationStore(dir)
	messages := state.NewMessageStore(dir)
	conv := &types.Conversation{UserID: "alice", SubjectKind: types.SubjectDocument, SubjectID: "7", Title: "report"}
	if err := conversations.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	factory := func(context.Context, string, types.UserID, types.Subject, types.ConversationID) (agent.CoreAgent, error) {
		return &stubAgent{}, nil
	}
	s := NewServer(factory, conversations, messages, 2)
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations?user_id=alice", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []*types.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "report" {
		t.Errorf("list = %+v", list)
	}
}

func TestConversationMessages(t *testing.T) {
	dir := t.TempDir()
	conversations := state.NewConversationStore(dir)
	messages := state.NewMessageStore(dir)
	conv := &types.Conversation{UserID: "alice", SubjectKind: types.SubjectDocument, SubjectID: "7"}
	if err := conversations.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	msg := &types.Message{ConversationID: conv.ID, Kind: types.MessageKindHuman, Content: "hello"}
	if err := messages.Append(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	factory := func(context.Context, string, types.UserID, types.Subject, types.ConversationID) (agent.CoreAgent, error) {
		return &stubAgent{}, nil
	}
	s := NewServer(factory, conversations, messages, 2)
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", int64(conv.ID)), nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []*types.Message
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Content != "hello" {
		t.Errorf("list = %+v", list)
	}
}
