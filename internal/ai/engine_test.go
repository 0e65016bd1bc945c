package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completionServer struct {
	mu        sync.Mutex
	requests  []openai.ChatCompletionRequest
	responses []openai.ChatCompletionResponse
	status    int
}

func (s *completionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		return
	}
	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.requests = append(s.requests, req)
	resp := s.responses[0]
	s.responses = s.responses[1:]
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func completion(id string, msg openai.ChatCompletionMessage) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      id,
		Choices: []openai.ChatCompletionChoice{{Message: msg}},
	}
}

func newTestEngine(t *testing.T, srv *completionServer) (*OpenAIEngine, *MemoryHistory) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	hist := NewMemoryHistory()
	e := NewOpenAIEngine(OpenAIConfig{
		APIKey:       "test",
		BaseURL:      ts.URL + "/v1",
		SystemPrompt: "Eres un asistente de admisiones.",
		Tools: []openai.Tool{{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "request_handoff"},
		}},
	}, hist, zerolog.Nop())
	return e, hist
}

func TestOpenAIEngine_ToolRoundTrip(t *testing.T) {
	srv := &completionServer{responses: []openai.ChatCompletionResponse{
		completion("resp_1", openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "list_available_appointments", Arguments: `{"start_date":"2025-03-10","end_date":"2025-03-12"}`},
			}},
		}),
		completion("resp_2", openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Tenemos lugar el lunes."}),
	}}
	e, hist := newTestEngine(t, srv)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "org-1", "Admisiones", "chat-1")
	require.NoError(t, err)

	reply, err := e.GenerateReply(ctx, "¿Hay citas?", conv, ReplyContext{ChatID: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", reply.ResponseID)
	require.Len(t, reply.FunctionCalls, 1)
	assert.Equal(t, "call_1", reply.FunctionCalls[0].CallID)
	assert.JSONEq(t, `{"start_date":"2025-03-10","end_date":"2025-03-12"}`, string(reply.FunctionCalls[0].Arguments))

	final, err := e.SubmitToolOutputs(ctx, conv, []ToolOutput{{CallID: "call_1", Output: json.RawMessage(`{"status":"ok"}`)}}, "")
	require.NoError(t, err)
	assert.Equal(t, "Tenemos lugar el lunes.", final.Text)

	require.Len(t, srv.requests, 2)
	first := srv.requests[0]
	assert.Equal(t, openai.ChatMessageRoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "Tema: Admisiones")
	assert.Equal(t, "chat-1", first.User)

	second := srv.requests[1]
	assert.Equal(t, "none", second.ToolChoice)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, openai.ChatMessageRoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)

	msgs, err := hist.Load(ctx, conv)
	require.NoError(t, err)
	assert.Len(t, msgs, 5) // system, user, assistant(tool call), tool, assistant
}

func TestOpenAIEngine_FailedToolRoundLeavesUsableHistory(t *testing.T) {
	srv := &completionServer{responses: []openai.ChatCompletionResponse{
		completion("resp_1", openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "request_handoff", Arguments: `{}`},
			}},
		}),
		completion("resp_2", openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Claro, dime."}),
	}}
	e, _ := newTestEngine(t, srv)
	ctx := context.Background()
	conv, err := e.CreateConversation(ctx, "org-1", "", "chat-1")
	require.NoError(t, err)

	_, err = e.GenerateReply(ctx, "necesito ayuda", conv, ReplyContext{})
	require.NoError(t, err)

	srv.mu.Lock()
	srv.status = http.StatusInternalServerError
	srv.mu.Unlock()
	_, err = e.SubmitToolOutputs(ctx, conv, []ToolOutput{{CallID: "call_1", Output: json.RawMessage(`{"status":"ok"}`)}}, "")
	require.Error(t, err)

	srv.mu.Lock()
	srv.status = 0
	srv.mu.Unlock()
	reply, err := e.GenerateReply(ctx, "¿sigues ahí?", conv, ReplyContext{})
	require.NoError(t, err)
	assert.Equal(t, "Claro, dime.", reply.Text)

	require.Len(t, srv.requests, 2)
	var roles []string
	for _, m := range srv.requests[1].Messages {
		roles = append(roles, m.Role)
		assert.Empty(t, m.ToolCalls)
	}
	assert.Equal(t, []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleUser,
	}, roles)
}

func TestSettled(t *testing.T) {
	call := func(ids ...string) openai.ChatCompletionMessage {
		m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		for _, id := range ids {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{ID: id, Type: openai.ToolTypeFunction})
		}
		return m
	}
	tool := func(id string) openai.ChatCompletionMessage {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, ToolCallID: id}
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "hola"}

	complete := []openai.ChatCompletionMessage{user, call("a"), tool("a")}
	assert.Equal(t, complete, settled(complete))

	partial := []openai.ChatCompletionMessage{user, call("a", "b"), tool("a"), user}
	assert.Equal(t, []openai.ChatCompletionMessage{user, user}, settled(partial))
}

func TestOpenAIEngine_HandoffMarker(t *testing.T) {
	srv := &completionServer{responses: []openai.ChatCompletionResponse{
		completion("r", openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Te comunico con un asesor. [[handoff]]"}),
	}}
	e, _ := newTestEngine(t, srv)
	conv, err := e.CreateConversation(context.Background(), "org", "", "chat")
	require.NoError(t, err)

	reply, err := e.GenerateReply(context.Background(), "quiero hablar con alguien", conv, ReplyContext{})
	require.NoError(t, err)
	assert.True(t, reply.HandoffRequested)
	assert.Equal(t, "Te comunico con un asesor.", reply.Text)
}

func TestOpenAIEngine_RateLimited(t *testing.T) {
	srv := &completionServer{status: http.StatusTooManyRequests}
	e, _ := newTestEngine(t, srv)
	conv, err := e.CreateConversation(context.Background(), "org", "", "chat")
	require.NoError(t, err)

	_, err = e.GenerateReply(context.Background(), "hola", conv, ReplyContext{})
	var rl RateLimitError
	assert.ErrorAs(t, err, &rl)
}

func TestOpenAIEngine_UnknownConversation(t *testing.T) {
	e, _ := newTestEngine(t, &completionServer{})
	_, err := e.GenerateReply(context.Background(), "hola", "missing", ReplyContext{})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestHTTPEngine(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id":"conv-9"}`))
	})
	mux.HandleFunc("/reply", func(w http.ResponseWriter, r *http.Request) {
		var req replyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ConversationID != "conv-9" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"reply_text":"","response_message_id":"m1","function_calls":[{"call_id":"c1","name":"create_lead","arguments":"{\"contact_name\":\"Ana\"}"}]}`))
	})
	mux.HandleFunc("/tool-outputs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	e := HTTPEngine{BaseURL: ts.URL}
	conv, err := e.CreateConversation(context.Background(), "org", "topic", "chat")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", conv)

	reply, err := e.GenerateReply(context.Background(), "hola", conv, ReplyContext{})
	require.NoError(t, err)
	assert.Equal(t, "m1", reply.ResponseID)
	require.Len(t, reply.FunctionCalls, 1)
	assert.Equal(t, "create_lead", reply.FunctionCalls[0].Name)
	assert.NotEmpty(t, reply.Raw)

	_, err = e.SubmitToolOutputs(context.Background(), conv, nil, "")
	assert.Error(t, err)
}

func TestMockEngine(t *testing.T) {
	var e MockEngine
	reply, err := e.GenerateReply(context.Background(), "Quiero hablar con un asesor", "c", ReplyContext{})
	require.NoError(t, err)
	require.Len(t, reply.FunctionCalls, 1)
	assert.Equal(t, "request_handoff", reply.FunctionCalls[0].Name)

	reply, err = e.GenerateReply(context.Background(), "hola", "c", ReplyContext{})
	require.NoError(t, err)
	assert.Empty(t, reply.FunctionCalls)
	assert.NotEmpty(t, reply.Text)
}

func TestHTTPEngine_LostConversation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(ts.Close)
	e := HTTPEngine{BaseURL: ts.URL}

	_, err := e.GenerateReply(context.Background(), "hola", "conv-gone", ReplyContext{})
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = e.CreateConversation(context.Background(), "org", "", "chat")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConversationNotFound)
}
