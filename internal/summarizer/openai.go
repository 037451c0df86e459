package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ryosukesatoh/feed-digest/internal/retry"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAICompleter calls an OpenAI-compatible chat completions API. Any
// provider exposing /chat/completions works, e.g. DashScope's
// compatible-mode endpoint.
type OpenAICompleter struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	client    *http.Client
}

func NewOpenAICompleter(endpoint, apiKey, model string, maxTokens int) *OpenAICompleter {
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAICompleter{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		client:    &http.Client{},
	}
}

type openaiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Messages  []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (o *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openaiMessage, 0, 2)
	if system != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: system})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(openaiRequest{Model: o.model, MaxTokens: o.maxTokens, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("openai: %w", &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}

	var or openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", fmt.Errorf("openai: failed to parse response: %w", err)
	}
	if or.Error != nil {
		return "", fmt.Errorf("openai: API error: %s - %s", or.Error.Type, or.Error.Message)
	}
	if len(or.Choices) == 0 || strings.TrimSpace(or.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai: empty response")
	}
	return or.Choices[0].Message.Content, nil
}
