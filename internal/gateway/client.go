package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adirachman/wa-broadcast-api/pkg/circuitbreaker"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
)

// SendError is a classified gateway failure.
type SendError struct {
	Category  ErrorCategory
	Message   string
	Retryable bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("gateway send failed (%s): %s", e.Category, e.Message)
}

// NewSendError classifies message and wraps it.
func NewSendError(message string) *SendError {
	category, retryable := Classify(message)
	return &SendError{Category: category, Message: message, Retryable: retryable}
}

// SendResult carries the gateway-assigned message id.
type SendResult struct {
	MessageID string `json:"id"`
}

// Client is the outbound messaging boundary. The HTTP implementation talks
// to a WAHA-compatible gateway; tests substitute fakes.
type Client interface {
	Send(ctx context.Context, session, chatID, content string, imageRef *string) (*SendResult, error)
	SessionStatus(ctx context.Context, session string) (string, error)
}

type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "wa-gateway",
			MaxFailures: 10,
			Timeout:     30 * time.Second,
		}),
		logger: log,
	}
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendImageRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Caption string `json:"caption,omitempty"`
	FileURL string `json:"file"`
}

type gatewayError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *httpClient) Send(ctx context.Context, session, chatID, content string, imageRef *string) (*SendResult, error) {
	var (
		path string
		body interface{}
	)
	if imageRef != nil && *imageRef != "" {
		path = "/api/sendImage"
		body = sendImageRequest{Session: session, ChatID: chatID, Caption: content, FileURL: *imageRef}
	} else {
		path = "/api/sendText"
		body = sendTextRequest{Session: session, ChatID: chatID, Text: content}
	}

	var result SendResult
	err := c.cb.Execute(func() error {
		return c.post(ctx, path, body, &result)
	})
	if err != nil {
		if sendErr, ok := err.(*SendError); ok {
			return nil, sendErr
		}
		return nil, NewSendError(err.Error())
	}
	return &result, nil
}

func (c *httpClient) SessionStatus(ctx context.Context, session string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions/"+session, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build session status request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", NewSendError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewSendError(fmt.Sprintf("session status returned %d", resp.StatusCode))
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode session status: %w", err)
	}
	return status.Status, nil
}

func (c *httpClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors (including client timeout) carry their own text
		// for classification.
		return NewSendError(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewSendError(err.Error())
	}

	if resp.StatusCode >= 400 {
		var ge gatewayError
		message := fmt.Sprintf("status %d", resp.StatusCode)
		if json.Unmarshal(raw, &ge) == nil {
			if ge.Message != "" {
				message = fmt.Sprintf("%s: %s", message, ge.Message)
			} else if ge.Error != "" {
				message = fmt.Sprintf("%s: %s", message, ge.Error)
			}
		}
		return NewSendError(message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}

func (c *httpClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
