// Package ai holds the conversation engine boundary: the engine interface,
// the go-openai and HTTP implementations, a deterministic mock and the
// conversation history stores the OpenAI engine keeps its turns in.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// HandoffMarker may appear in a reply to ask for a human; engines strip it
// and set Reply.HandoffRequested.
const HandoffMarker = "[[handoff]]"

var ErrConversationNotFound = errors.New("conversation not found")

// FunctionCall is a tool invocation requested by the engine. Arguments is
// whatever the engine produced: an object, a string holding an object, or
// nothing.
type FunctionCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolOutput struct {
	CallID string          `json:"call_id"`
	Output json.RawMessage `json:"output"`
}

// ReplyContext is per-turn information the engine may use for instructions
// and tracing.
type ReplyContext struct {
	OrganizationID string
	ChatID         string
	SessionID      string
	Instructions   string
}

type Reply struct {
	Text             string
	HandoffRequested bool
	ResponseID       string
	FunctionCalls    []FunctionCall
	Raw              json.RawMessage
}

type Engine interface {
	CreateConversation(ctx context.Context, orgID, topic, chatID string) (string, error)
	GenerateReply(ctx context.Context, input, conversationID string, rc ReplyContext) (Reply, error)
	// SubmitToolOutputs sends a turn's tool outputs back in one batch and
	// returns the follow-up reply. An empty model keeps the engine default.
	SubmitToolOutputs(ctx context.Context, conversationID string, outputs []ToolOutput, model string) (Reply, error)
}

func splitHandoff(text string) (string, bool) {
	if !strings.Contains(text, HandoffMarker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, HandoffMarker, "")), true
}
