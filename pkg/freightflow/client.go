package freightflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

var (
	ErrNotFound = errors.New("execution not found")
	ErrConflict = errors.New("execution already finished")
)

// APIError is a non 2xx answer of the HTTP API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the HTTP API of a running freightflow server.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// StartExecution starts an execution. A request rejected by validation returns the stored record
// together with an error wrapping models.ErrValidation.
func (c *Client) StartExecution(ctx context.Context, req models.StartExecutionRequest) (*models.StartExecutionResponse, error) {
	var res models.StartExecutionResponse
	status, err := c.do(ctx, http.MethodPost, "/api/executions", req, &res)
	if status == http.StatusUnprocessableEntity {
		return &res, fmt.Errorf("%w: %s", models.ErrValidation, res.Reason)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetExecution(ctx context.Context, executionID string) (*models.ExecutionApiResponse, error) {
	var res models.ExecutionApiResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(executionID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CancelExecution(ctx context.Context, executionID, reason string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/executions/"+url.PathEscape(executionID)+"/cancel",
		models.CancelExecutionRequest{Reason: reason}, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode == http.StatusUnprocessableEntity && out != nil {
		_ = json.Unmarshal(data, out)
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusConflict:
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrConflict, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 300:
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
