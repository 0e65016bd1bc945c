// Package messaging sends text replies over the outbound chat channel.
package messaging

import (
	"context"
	"fmt"
)

// Gateway delivers one text message and returns the provider's message id.
type Gateway interface {
	SendText(ctx context.Context, phoneNumberID, accessToken, to, body string) (string, error)
}

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}
