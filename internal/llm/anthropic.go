package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// anthropicClient implements the Client interface for the Anthropic API
// using its tool-use protocol.
type anthropicClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 500
	}

	return &anthropicClient{
		baseURL:     "https://api.anthropic.com",
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// CallFunction performs one tool-use round-trip.
func (c *anthropicClient) CallFunction(ctx context.Context, req FunctionCallRequest) (FunctionCallResponse, error) {
	tools := make([]map[string]any, 0, len(req.Functions))
	for _, fn := range req.Functions {
		schema := fn.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, map[string]any{
			"name":         fn.Name,
			"description":  fn.Description,
			"input_schema": schema,
		})
	}

	requestBody := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"system":     req.System,
		"messages": []map[string]string{
			{"role": "user", "content": req.User},
		},
		"tools":       tools,
		"tool_choice": map[string]any{"type": "any"},
		"temperature": c.temperature,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return FunctionCallResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", strings.NewReader(string(jsonBody)))
	if err != nil {
		return FunctionCallResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return FunctionCallResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FunctionCallResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return FunctionCallResponse{}, fmt.Errorf("Anthropic API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return FunctionCallResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var refusal string
	for _, block := range response.Content {
		switch block.Type {
		case "tool_use":
			args, marshalErr := json.Marshal(block.Input)
			if marshalErr != nil {
				return FunctionCallResponse{}, fmt.Errorf("failed to encode tool input: %w", marshalErr)
			}
			return FunctionCallResponse{Name: block.Name, Arguments: args}, nil
		case "text":
			refusal = block.Text
		}
	}

	return FunctionCallResponse{Refusal: refusal}, nil
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}
