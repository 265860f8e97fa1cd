package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fincasdesk/platform/internal/shared/config"
	"github.com/fincasdesk/platform/internal/shared/metrics"
)

// ErrDisabled is returned by every call when no provider is configured
var ErrDisabled = errors.New("ai completion disabled")

// Completer returns the JSON text produced by a chat-completions model for
// a system instruction and a conversation.
type Completer interface {
	CompleteJSON(ctx context.Context, system string, messages []Message) (string, error)
}

// Client talks to an OpenAI-compatible chat-completions endpoint
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	enabled     bool

	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewClient creates a completion client from configuration
func NewClient(cfg config.AIConfig, log *slog.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		enabled:     cfg.Enabled && cfg.APIKey != "",
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		log:         log.With("component", "ai_client"),
	}
}

func (c *Client) Enabled() bool { return c.enabled }

func (c *Client) Model() string { return c.model }

// CompleteJSON sends one request constrained to a JSON object response and
// returns the raw content of the first choice.
func (c *Client) CompleteJSON(ctx context.Context, system string, messages []Message) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	all := make([]Message, 0, len(messages)+1)
	all = append(all, Message{Role: RoleSystem, Content: system})
	all = append(all, messages...)

	start := time.Now()
	content, err := c.do(ctx, completionRequest{
		Model:          c.model,
		Messages:       all,
		Temperature:    c.temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordAIRequest(status, time.Since(start))
	return content, err
}

func (c *Client) do(ctx context.Context, req completionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var out completionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("completion API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Health lists the models endpoint to check credentials and reachability
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled {
		return ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
