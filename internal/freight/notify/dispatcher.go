// Package notify delivers a composed message to a recipient over exactly one channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

var (
	// ErrInvalidChannel means the request cannot be delivered as asked. It is never retried.
	ErrInvalidChannel = errors.New("invalid notification channel")
	// ErrMissingRecipient is an ErrInvalidChannel where the field for the selected channel is empty.
	ErrMissingRecipient = fmt.Errorf("%w: recipient missing for channel", ErrInvalidChannel)
	// ErrTransportNotConfigured is reported when a transport lacks credentials.
	ErrTransportNotConfigured = errors.New("notification transport not configured")
)

type EmailTransport interface {
	SendEmail(ctx context.Context, to, subject, text string) error
}

type SMSTransport interface {
	SendSMS(ctx context.Context, to, text string) error
}

type Dispatcher struct {
	email EmailTransport
	sms   SMSTransport
}

func NewDispatcher(email EmailTransport, sms SMSTransport) *Dispatcher {
	return &Dispatcher{email: email, sms: sms}
}

// Dispatch sends through the transport selected by channel and nothing else. Transport errors are
// returned unchanged so the caller can decide about retries.
func (d *Dispatcher) Dispatch(ctx context.Context, channel models.Channel, recipient models.Recipient, subject, text string) error {
	switch channel {
	case models.ChannelEmail:
		if recipient.Email == "" {
			return fmt.Errorf("%w: EMAIL needs an email address", ErrMissingRecipient)
		}
		if d.email == nil {
			return ErrTransportNotConfigured
		}
		slog.InfoContext(ctx, "Sending email notification", "to", recipient.Email, "subject", subject)
		return d.email.SendEmail(ctx, recipient.Email, subject, text)
	case models.ChannelSMS:
		if recipient.Phone == "" {
			return fmt.Errorf("%w: SMS needs a phone number", ErrMissingRecipient)
		}
		if d.sms == nil {
			return ErrTransportNotConfigured
		}
		slog.InfoContext(ctx, "Sending SMS notification", "to", recipient.Phone)
		return d.sms.SendSMS(ctx, recipient.Phone, text)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
}
