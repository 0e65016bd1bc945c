package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPEngine talks to a remote conversation service that exposes
// /conversations, /reply and /tool-outputs.
type HTTPEngine struct {
	BaseURL string
	Client  *http.Client
}

type conversationRequest struct {
	OrganizationID string `json:"organization_id"`
	Topic          string `json:"topic"`
	ChatID         string `json:"chat_id"`
}

type replyRequest struct {
	ConversationID string `json:"conversation_id"`
	Input          string `json:"input"`
	OrganizationID string `json:"organization_id,omitempty"`
	ChatID         string `json:"chat_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

type toolOutputsRequest struct {
	ConversationID string       `json:"conversation_id"`
	Outputs        []ToolOutput `json:"outputs"`
	Model          string       `json:"model,omitempty"`
}

type replyBody struct {
	ReplyText         string         `json:"reply_text"`
	HandoffRequested  bool           `json:"handoff_requested"`
	ResponseMessageID string         `json:"response_message_id"`
	FunctionCalls     []FunctionCall `json:"function_calls"`
}

func (h HTTPEngine) CreateConversation(ctx context.Context, orgID, topic, chatID string) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if _, err := h.post(ctx, "/conversations", conversationRequest{OrganizationID: orgID, Topic: topic, ChatID: chatID}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ConversationID) == "" {
		return "", fmt.Errorf("ai service returned no conversation id")
	}
	return out.ConversationID, nil
}

func (h HTTPEngine) GenerateReply(ctx context.Context, input, conversationID string, rc ReplyContext) (Reply, error) {
	var body replyBody
	raw, err := h.post(ctx, "/reply", replyRequest{
		ConversationID: conversationID,
		Input:          input,
		OrganizationID: rc.OrganizationID,
		ChatID:         rc.ChatID,
		SessionID:      rc.SessionID,
		Instructions:   rc.Instructions,
	}, &body)
	if err != nil {
		return Reply{}, err
	}
	return body.reply(raw), nil
}

func (h HTTPEngine) SubmitToolOutputs(ctx context.Context, conversationID string, outputs []ToolOutput, model string) (Reply, error) {
	var body replyBody
	raw, err := h.post(ctx, "/tool-outputs", toolOutputsRequest{ConversationID: conversationID, Outputs: outputs, Model: model}, &body)
	if err != nil {
		return Reply{}, err
	}
	return body.reply(raw), nil
}

func (b replyBody) reply(raw []byte) Reply {
	text, marker := splitHandoff(b.ReplyText)
	return Reply{
		Text:             text,
		HandoffRequested: b.HandoffRequested || marker,
		ResponseID:       b.ResponseMessageID,
		FunctionCalls:    b.FunctionCalls,
		Raw:              raw,
	}
}

func (h HTTPEngine) post(ctx context.Context, path string, payload, out any) ([]byte, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai service %s: %w", path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("ai service %s: read body: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound && path != "/conversations" {
		return nil, fmt.Errorf("ai service %s: %w", path, ErrConversationNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ai service %s: %s", path, resp.Status)
	}
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return nil, fmt.Errorf("ai service %s: decode: %w", path, err)
	}
	return buf.Bytes(), nil
}
