package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppGateway posts text messages to the WhatsApp Cloud API. The phone
// number id and access token come from the organization on every call.
type WhatsAppGateway struct {
	BaseURL    string
	APIVersion string
	Client     *http.Client
}

func NewWhatsAppGateway(baseURL, version string, timeout time.Duration) *WhatsAppGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppGateway{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIVersion: version,
		Client:     &http.Client{Timeout: timeout},
	}
}

type waTextPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *WhatsAppGateway) SendText(ctx context.Context, phoneNumberID, accessToken, to, body string) (string, error) {
	if phoneNumberID == "" || accessToken == "" {
		return "", errors.New("whatsapp: missing phone number id or access token")
	}
	payload := waTextPayload{MessagingProduct: "whatsapp", To: strings.TrimPrefix(to, "+"), Type: "text"}
	payload.Text.Body = body
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", g.BaseURL, g.APIVersion, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out waSendResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", &ProviderError{Provider: "whatsapp", Status: resp.StatusCode, Message: msg}
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.New("whatsapp: response carried no message id")
	}
	return out.Messages[0].ID, nil
}
