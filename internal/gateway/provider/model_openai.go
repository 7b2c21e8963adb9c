package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"papertrader/internal/logger"
)

// OpenAIChatClient speaks the OpenAI-compatible /chat/completions API
// (OpenRouter, OpenAI, DeepSeek, ...).
type OpenAIChatClient struct {
	id           string
	baseURL      string
	apiKey       string
	model        string
	extraHeaders map[string]string
	maxRetries   int
	retryWait    time.Duration
	http         *http.Client
}

type OpenAIOptions struct {
	ID           string
	BaseURL      string
	APIKey       string
	Model        string
	ExtraHeaders map[string]string
	Timeout      time.Duration
	// MaxRetries applies to 5xx only. 429 is returned at once so the caller
	// can move on to another model.
	MaxRetries int
}

func NewOpenAIChatClient(opts OpenAIOptions) *OpenAIChatClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = opts.Model
	}
	return &OpenAIChatClient{
		id:           id,
		baseURL:      completionsURL(opts.BaseURL),
		apiKey:       opts.APIKey,
		model:        opts.Model,
		extraHeaders: opts.ExtraHeaders,
		maxRetries:   opts.MaxRetries,
		retryWait:    800 * time.Millisecond,
		http:         &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIChatClient) ID() string { return c.id }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIChatClient) Complete(ctx context.Context, p Prompt) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: p.User})
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	logger.LogLLMRequest(c.id, p.Purpose, p.System, p.User)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryWait << (attempt - 1)
			logger.Warnf("[AI] %s retry %d after %s: %v", c.id, attempt, wait, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		out, retry, err := c.do(ctx, body)
		if err == nil {
			logger.LogLLMResponse(c.id, p.Purpose, out)
			return out, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", lastErr
}

func (c *OpenAIChatClient) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("model %s: %w", c.id, err)
	}
	defer resp.Body.Close()

	var decoded chatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
	if resp.StatusCode/100 != 2 {
		msg := resp.Status
		if decodeErr == nil && decoded.Error != nil && strings.TrimSpace(decoded.Error.Message) != "" {
			msg = strings.TrimSpace(decoded.Error.Message)
		}
		retry := resp.StatusCode >= 500
		return "", retry, &StatusError{Model: c.id, Code: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", false, fmt.Errorf("model %s: decode response: %w", c.id, decodeErr)
	}
	if len(decoded.Choices) == 0 {
		return "", false, fmt.Errorf("model %s: empty choices", c.id)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", false, fmt.Errorf("model %s: empty content", c.id)
	}
	return content, false, nil
}

// completionsURL normalizes a base URL that may already end in /chat/completions.
func completionsURL(base string) string {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if url == "" {
		url = "https://openrouter.ai/api/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}
