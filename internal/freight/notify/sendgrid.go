package notify

import (
	"context"
	"fmt"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendgridSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridTransport sends plain-text email through the SendGrid v3 API.
type SendGridTransport struct {
	from   string
	client sendgridSender
}

func NewSendGridTransport(cfg config.SendGridConfig) *SendGridTransport {
	t := &SendGridTransport{from: cfg.FromEmail}
	if cfg.APIKey != "" {
		t.client = sendgrid.NewSendClient(cfg.APIKey)
	}
	return t
}

func (t *SendGridTransport) SendEmail(ctx context.Context, to, subject, text string) error {
	if t.client == nil || t.from == "" {
		return fmt.Errorf("sendgrid: %w", ErrTransportNotConfigured)
	}
	message := mail.NewSingleEmail(mail.NewEmail("", t.from), subject, mail.NewEmail("", to), text, "")
	resp, err := t.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: unexpected status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
