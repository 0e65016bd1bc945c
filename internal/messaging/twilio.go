package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/sfreiberg/gotwilio"
)

// TwilioClient is the part of gotwilio the gateway uses.
type TwilioClient interface {
	SendSMS(from, to, body, statusCallback, applicationSid string) (*gotwilio.SmsResponse, *gotwilio.Exception, error)
}

// TwilioGateway sends replies through Twilio's WhatsApp or SMS channel.
// The organization's phone number id is used as the sender when set,
// otherwise From.
type TwilioGateway struct {
	Client TwilioClient
	From   string
}

func NewTwilioGateway(accountSID, authToken, from string) *TwilioGateway {
	return &TwilioGateway{Client: gotwilio.NewTwilioClient(accountSID, authToken), From: from}
}

func (g *TwilioGateway) SendText(ctx context.Context, phoneNumberID, accessToken, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	from := g.From
	if phoneNumberID != "" {
		from = phoneNumberID
	}
	if from == "" {
		return "", errors.New("twilio: no sender configured")
	}
	if strings.HasPrefix(from, "whatsapp:") && !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}

	res, exc, err := g.Client.SendSMS(from, to, body, "", "")
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", &ProviderError{Provider: "twilio", Status: exc.Status, Message: exc.Message}
	}
	if res == nil {
		return "", errors.New("twilio: empty response")
	}
	return res.Sid, nil
}
