package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	openAIBaseURL = "https://api.openai.com/v1"

	defaultMaxTokens   = 1024
	defaultTemperature = 0.3
	defaultTimeout     = 60 * time.Second
	maxRetries         = 3
)

// ChatMessage is a single message in an OpenAI-style request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible completion request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse is the OpenAI-compatible completion response body.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// CompatConfig holds configuration for an OpenAI-compatible client.
type CompatConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// CompatClient talks to any OpenAI-compatible chat completion endpoint.
// Groq and OpenAI share this implementation; only the base URL differs.
type CompatClient struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewGroqClient creates a client for the Groq API.
func NewGroqClient(apiKey, model string) *CompatClient {
	return NewCompatClient(CompatConfig{
		Name:    ProviderGroq,
		APIKey:  apiKey,
		BaseURL: groqBaseURL,
		Model:   model,
	})
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey, model string) *CompatClient {
	return NewCompatClient(CompatConfig{
		Name:    ProviderOpenAI,
		APIKey:  apiKey,
		BaseURL: openAIBaseURL,
		Model:   model,
	})
}

// NewCompatClient creates a client with custom config.
func NewCompatClient(config CompatConfig) *CompatClient {
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.Temperature <= 0 {
		config.Temperature = defaultTemperature
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &CompatClient{
		name:        config.Name,
		apiKey:      config.APIKey,
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *CompatClient) Name() string {
	return c.name
}

// Complete sends a prompt and returns the completion.
func (c *CompatClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message. Rate-limited
// responses (429) are retried with exponential backoff.
func (c *CompatClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return "", fmt.Errorf("%s: API key not configured", c.name)
	}

	start := time.Now()

	var messages []ChatMessage
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: userPrompt})

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// 1s, 2s, 4s between attempts
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close response body", "provider", c.name, "error", closeErr)
		}
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			slog.Debug("Provider rate limited, backing off", "provider", c.name, "attempt", i+1)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%s request failed with status %d: %s", c.name, resp.StatusCode, string(body))
		}

		var chatResp ChatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			return "", fmt.Errorf("parse response: %w", err)
		}

		if chatResp.Error != nil {
			return "", fmt.Errorf("%s API error: %s", c.name, chatResp.Error.Message)
		}

		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("%s returned no completion", c.name)
		}

		content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
		slog.Debug("Completion finished",
			"provider", c.name,
			"model", c.model,
			"duration", time.Since(start),
			"total_tokens", chatResp.Usage.TotalTokens,
		)
		return content, nil
	}

	return "", fmt.Errorf("%s: max retries exceeded: %w", c.name, lastErr)
}
