// Package composer turns a delay estimate into a customer-facing message using a chat completion model.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/freight/traffic"
	openai "github.com/sashabaranov/go-openai"
)

const (
	Model       = openai.GPT4oMini
	Temperature = 0.7
	MaxTokens   = 100

	// EmptyReplyMessage is used when the model answers without any choice.
	EmptyReplyMessage = "We're experiencing a delay in your delivery. Thank you for your patience!"
	// FailureMessage is used when the model cannot be reached or no credential is configured.
	FailureMessage = "We're currently facing some traffic delays. We appreciate your understanding!"

	defaultAPIURL = "https://api.openai.com"

	// DefaultTimeout bounds one completion request.
	DefaultTimeout = 8 * time.Second
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Composer struct {
	client  chatClient
	Timeout time.Duration
}

// NewComposer builds a composer for the configured endpoint. Without an API key every call returns FailureMessage.
func NewComposer(cfg config.OpenAIConfig) *Composer {
	if cfg.APIKey == "" {
		return &Composer{}
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = apiURL + "/v1"
	clientConfig.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	return &Composer{client: openai.NewClientWithConfig(clientConfig), Timeout: DefaultTimeout}
}

// Prompt is the instruction sent to the model for a delay.
func Prompt(delayMinutes float64) string {
	return fmt.Sprintf("You are a customer service assistant. Generate a professional, friendly message to notify "+
		"a customer about a traffic delay of %s minutes. Keep it polite, empathetic and informative, "+
		"start with \"Dear Valuable customer\" and end with \"Thank you for your understanding!, Best Regards\". "+
		"No need to add any information after this.", traffic.FormatMinutes(delayMinutes))
}

// Compose always returns a message; collaborator failures select one of the fixed fallbacks.
func (c *Composer) Compose(ctx context.Context, delayMinutes float64) string {
	if c.client == nil {
		slog.WarnContext(ctx, "OpenAI API key missing, using fallback message")
		return FailureMessage
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(delayMinutes)},
		},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		slog.WarnContext(ctx, "Message generation failed, using fallback message", "error", err)
		return FailureMessage
	}
	if len(resp.Choices) == 0 {
		return EmptyReplyMessage
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return EmptyReplyMessage
	}
	return text
}
