package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks a malformed WorkflowRequest. It is never retried.
var ErrValidation = errors.New("invalid workflow request")

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelNone  Channel = "NONE"
)

// ParseChannel accepts any casing ("email", "Sms"); an empty value means NONE.
func ParseChannel(s string) Channel {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ChannelNone
	}
	return Channel(s)
}

func (c *Channel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = ParseChannel(s)
	return nil
}

type Recipient struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// WorkflowRequest is the immutable input of one execution.
type WorkflowRequest struct {
	Origin           string    `json:"origin" validate:"required"`
	Destination      string    `json:"destination" validate:"required"`
	ThresholdMinutes float64   `json:"thresholdMinutes" validate:"gte=0"`
	Notify           bool      `json:"notify"`
	RecipientChannel Channel   `json:"recipientChannel,omitempty" validate:"omitempty,oneof=EMAIL SMS NONE"`
	Recipient        Recipient `json:"recipient"`
}

// Channel returns the selected channel, NONE when unset.
func (r WorkflowRequest) Channel() Channel {
	if r.RecipientChannel == "" {
		return ChannelNone
	}
	return r.RecipientChannel
}

// Subject is the notification subject for the request's route.
func (r WorkflowRequest) Subject() string {
	return fmt.Sprintf("Freight Delay Notification: %s to %s", r.Origin, r.Destination)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field rules and the notify invariant: notify requires EMAIL or SMS and the matching
// recipient field. A request with notify disabled may still carry a channel; it is ignored.
func (r WorkflowRequest) Validate() error {
	if strings.TrimSpace(r.Origin) == "" || strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("%w: origin and destination are required", ErrValidation)
	}
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !r.Notify {
		return nil
	}
	switch r.Channel() {
	case ChannelEmail:
		if strings.TrimSpace(r.Recipient.Email) == "" {
			return fmt.Errorf("%w: recipient.email is required for channel EMAIL", ErrValidation)
		}
	case ChannelSMS:
		if strings.TrimSpace(r.Recipient.Phone) == "" {
			return fmt.Errorf("%w: recipient.phone is required for channel SMS", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: notify requires recipientChannel EMAIL or SMS", ErrValidation)
	}
	return nil
}
