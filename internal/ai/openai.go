package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// RateLimitError is returned when the provider answers 429.
type RateLimitError struct {
	Err error
}

func (e RateLimitError) Error() string {
	return "rate limited: " + e.Err.Error()
}

func (e RateLimitError) Unwrap() error { return e.Err }

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Tools        []openai.Tool
	Timeout      time.Duration
}

// OpenAIEngine runs conversations over the chat completions API with
// function tools. The message list of each conversation lives in History.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	prompt  string
	tools   []openai.Tool
	history History
	logger  zerolog.Logger
}

func NewOpenAIEngine(cfg OpenAIConfig, history History, logger zerolog.Logger) *OpenAIEngine {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		prompt:  cfg.SystemPrompt,
		tools:   cfg.Tools,
		history: history,
		logger:  logger.With().Str("component", "openai_engine").Logger(),
	}
}

func (e *OpenAIEngine) CreateConversation(ctx context.Context, orgID, topic, chatID string) (string, error) {
	id := "conv_" + uuid.NewString()
	var system []openai.ChatCompletionMessage
	if prompt := systemPrompt(e.prompt, topic); prompt != "" {
		system = append(system, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	}
	if err := e.history.Create(ctx, id, system...); err != nil {
		return "", err
	}
	e.logger.Debug().Str("organization_id", orgID).Str("chat_id", chatID).Str("conversation_id", id).Msg("conversation created")
	return id, nil
}

func (e *OpenAIEngine) GenerateReply(ctx context.Context, input, conversationID string, rc ReplyContext) (Reply, error) {
	msgs, err := e.history.Load(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	if kept := settled(msgs); len(kept) != len(msgs) {
		e.logger.Warn().Str("conversation_id", conversationID).Msg("dropping tool calls left without outputs")
		msgs = kept
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input}
	req := openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: append(withInstructions(msgs, rc.Instructions), user),
		User:     rc.ChatID,
	}
	if len(e.tools) > 0 {
		req.Tools = e.tools
	}

	resp, err := e.complete(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	msg := resp.Choices[0].Message
	if err := e.history.Append(ctx, conversationID, user, msg); err != nil {
		return Reply{}, err
	}
	return replyFrom(resp, msg), nil
}

func (e *OpenAIEngine) SubmitToolOutputs(ctx context.Context, conversationID string, outputs []ToolOutput, model string) (Reply, error) {
	msgs, err := e.history.Load(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	toolMsgs := make([]openai.ChatCompletionMessage, 0, len(outputs))
	for _, o := range outputs {
		toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    string(o.Output),
			ToolCallID: o.CallID,
		})
	}
	if model == "" {
		model = e.model
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: append(msgs, toolMsgs...),
	}
	if len(e.tools) > 0 {
		// the follow-up must be text; a second round of calls is not executed
		req.Tools = e.tools
		req.ToolChoice = "none"
	}

	resp, err := e.complete(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	msg := resp.Choices[0].Message
	if err := e.history.Append(ctx, conversationID, append(toolMsgs, msg)...); err != nil {
		return Reply{}, err
	}
	return replyFrom(resp, msg), nil
}

func (e *OpenAIEngine) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		e.logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("chat completion failed")
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return resp, RateLimitError{Err: err}
		}
		return resp, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return resp, errors.New("openai chat completion: no choices")
	}
	e.logger.Debug().Int("tokens", resp.Usage.TotalTokens).Dur("duration", time.Since(start)).Msg("chat completion")
	return resp, nil
}

func replyFrom(resp openai.ChatCompletionResponse, msg openai.ChatCompletionMessage) Reply {
	text, handoff := splitHandoff(msg.Content)
	out := Reply{
		Text:             text,
		HandoffRequested: handoff,
		ResponseID:       resp.ID,
	}
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != openai.ToolTypeFunction {
			continue
		}
		out.FunctionCalls = append(out.FunctionCalls, FunctionCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = raw
	}
	return out
}

// rawArguments keeps valid JSON as is and wraps anything else as a string.
func rawArguments(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(args)
	return b
}

// settled drops assistant messages whose tool calls never got an output,
// along with any partial outputs that answered them. The API rejects a
// history where a tool call is not followed by its output.
func settled(msgs []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	answered := map[string]bool{}
	for _, m := range msgs {
		if m.Role == openai.ChatMessageRoleTool {
			answered[m.ToolCallID] = true
		}
	}
	dropped := map[string]bool{}
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == openai.ChatMessageRoleAssistant && len(m.ToolCalls) > 0 {
			complete := true
			for _, tc := range m.ToolCalls {
				if !answered[tc.ID] {
					complete = false
					break
				}
			}
			if !complete {
				for _, tc := range m.ToolCalls {
					dropped[tc.ID] = true
				}
				continue
			}
		}
		if m.Role == openai.ChatMessageRoleTool && dropped[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func systemPrompt(prompt, topic string) string {
	prompt = strings.TrimSpace(prompt)
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return prompt
	case prompt == "":
		return "Tema: " + topic
	default:
		return prompt + "\n\nTema: " + topic
	}
}

func withInstructions(msgs []openai.ChatCompletionMessage, instructions string) []openai.ChatCompletionMessage {
	if strings.TrimSpace(instructions) == "" {
		return msgs
	}
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
}
