package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MockEngine answers without any model. It asks for a handoff when the
// input mentions a human and otherwise acknowledges the message.
type MockEngine struct{}

var handoffWords = []string{"asesor", "humano", "persona", "agente"}

func (MockEngine) CreateConversation(ctx context.Context, orgID, topic, chatID string) (string, error) {
	return "mock_" + uuid.NewString(), nil
}

func (MockEngine) GenerateReply(ctx context.Context, input, conversationID string, rc ReplyContext) (Reply, error) {
	lower := strings.ToLower(input)
	for _, w := range handoffWords {
		if strings.Contains(lower, w) {
			return Reply{
				ResponseID: "mock_" + uuid.NewString(),
				FunctionCalls: []FunctionCall{{
					CallID:    "call_" + uuid.NewString(),
					Name:      "request_handoff",
					Arguments: json.RawMessage(`{}`),
				}},
			}, nil
		}
	}
	return Reply{
		Text:       fmt.Sprintf("Gracias por tu mensaje. Recibimos: %q", strings.TrimSpace(input)),
		ResponseID: "mock_" + uuid.NewString(),
	}, nil
}

func (MockEngine) SubmitToolOutputs(ctx context.Context, conversationID string, outputs []ToolOutput, model string) (Reply, error) {
	return Reply{
		Text:       fmt.Sprintf("Listo, procesamos %d solicitud(es).", len(outputs)),
		ResponseID: "mock_" + uuid.NewString(),
	}, nil
}
