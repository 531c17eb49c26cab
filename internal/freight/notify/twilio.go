package notify

import (
	"context"
	"fmt"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type twilioMessenger interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioTransport sends SMS through the Twilio Messages API.
type TwilioTransport struct {
	from   string
	client twilioMessenger
}

func NewTwilioTransport(cfg config.TwilioConfig) *TwilioTransport {
	t := &TwilioTransport{from: cfg.PhoneNumber}
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		t.client = rest.Api
	}
	return t
}

// SendSMS does not observe ctx; the Twilio client has no context-aware call.
func (t *TwilioTransport) SendSMS(_ context.Context, to, text string) error {
	if t.client == nil || t.from == "" {
		return fmt.Errorf("twilio: %w", ErrTransportNotConfigured)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(text)
	if _, err := t.client.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	return nil
}
