// Package llm provides an OpenAI-compatible chat completion client used for
// grounded answer generation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 120 * time.Second

// Config configures the chat completion client
type Config struct {
	BaseURL string
	APIKey  string
	// Model is tried first; FallbackModel once if the primary fails or
	// returns empty output
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// Request structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response structures
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a new chat completion client
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

// Generate produces a completion for the prompt. The primary model is
// tried first; on failure or empty output the fallback model gets one
// attempt before the error is returned.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	content, err := c.complete(ctx, c.config.Model, system, prompt)
	if err == nil && strings.TrimSpace(content) != "" {
		return content, nil
	}

	if c.config.FallbackModel == "" || c.config.FallbackModel == c.config.Model {
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("model %s returned empty completion", c.config.Model)
	}

	c.logger.WithFields(logrus.Fields{
		"model":    c.config.Model,
		"fallback": c.config.FallbackModel,
	}).WithError(err).Warn("Primary model failed, trying fallback")

	content, fbErr := c.complete(ctx, c.config.FallbackModel, system, prompt)
	if fbErr != nil {
		return "", fmt.Errorf("fallback model failed: %w (primary: %v)", fbErr, err)
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("fallback model %s returned empty completion", c.config.FallbackModel)
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, model, system, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion error: %d - %s", resp.StatusCode, string(body))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return apiResp.Choices[0].Message.Content, nil
}
