package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Service sends one prompt to the translation service and returns the text of
// its answer.
type Service interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TransportError marks a failure to reach the service or a transient refusal
// by it (HTTP 429 or 5xx). The client retries these after a backoff delay.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// OpenAI-compatible chat completions
// ---------------------------------------------------------------------------

// ServiceConfig configures an HTTPService.
type ServiceConfig struct {
	// URL is the full chat completions endpoint.
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	Model  string
	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// Timeout bounds one request (default 60s).
	Timeout time.Duration
	// RequestsPerSecond paces requests across all workers. 0 disables pacing.
	RequestsPerSecond float64
	// Proxy is an optional HTTP/HTTPS proxy URL. Without it the
	// HTTP_PROXY/HTTPS_PROXY environment is used.
	Proxy string
}

// DefaultTimeout bounds one service request.
const DefaultTimeout = 60 * time.Second

// DefaultMaxTokens is the completion budget of one request.
const DefaultMaxTokens = 4000

// HTTPService calls an OpenAI-compatible chat completions endpoint.
type HTTPService struct {
	cfg     ServiceConfig
	http    *resty.Client
	limiter *rate.Limiter
}

// NewHTTPService returns a service for cfg.
func NewHTTPService(cfg ServiceConfig) *HTTPService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	c := resty.New().SetTimeout(cfg.Timeout)
	if cfg.Proxy != "" {
		c.SetProxy(cfg.Proxy)
	}

	s := &HTTPService{cfg: cfg, http: c}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// Complete posts prompt as the user message and returns the first choice's
// content.
func (s *HTTPService) Complete(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", &TransportError{Err: err}
		}
	}

	body := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: s.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	req := s.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if s.cfg.APIKey != "" {
		req.SetAuthToken(s.cfg.APIKey)
	}

	resp, err := req.Post(s.cfg.URL)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	status := resp.StatusCode()
	if status == http.StatusTooManyRequests || status >= 500 {
		return "", &TransportError{StatusCode: status, Err: errors.New(truncate(resp.String(), 300))}
	}
	if resp.IsError() {
		return "", fmt.Errorf("service returned %s: %s", resp.Status(), truncate(resp.String(), 300))
	}

	return extractResponseText(resp.Body())
}

// extractResponseText reads choices[0].message.content from a chat
// completions response.
func extractResponseText(body []byte) (string, error) {
	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if len(raw.Error) > 0 && string(raw.Error) != "null" {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw.Error, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("API error: %s", apiErr.Message)
		}
		return "", fmt.Errorf("API error: %s", truncate(string(raw.Error), 300))
	}

	if len(raw.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %s", truncate(string(body), 300))
	}
	return strings.TrimSpace(raw.Choices[0].Message.Content), nil
}
