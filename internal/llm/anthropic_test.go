package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropicClient(serverURL string) *anthropicClient {
	return &anthropicClient{
		httpClient:  http.DefaultClient,
		baseURL:     serverURL,
		apiKey:      "test-key",
		model:       "claude-sonnet-4-20250514",
		temperature: 0.3,
		maxTokens:   500,
	}
}

func TestAnthropicToolUse(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{
			"content": [{
				"type": "tool_use",
				"name": "rule_0",
				"input": {"reason": "it is a receipt"}
			}],
			"stop_reason": "tool_use"
		}`))
	}))
	defer server.Close()

	client := newTestAnthropicClient(server.URL)
	resp, err := client.CallFunction(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "rule_0", resp.Name)
	var args map[string]string
	require.NoError(t, json.Unmarshal(resp.Arguments, &args))
	assert.Equal(t, "it is a receipt", args["reason"])

	choice, ok := gotBody["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "any", choice["type"])
	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	tool, ok := tools[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, tool, "input_schema")
}

func TestAnthropicTextAnswerIsARefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "I cannot decide."}],
			"stop_reason": "end_turn"
		}`))
	}))
	defer server.Close()

	client := newTestAnthropicClient(server.URL)
	resp, err := client.CallFunction(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, resp.Refused())
	assert.Equal(t, "I cannot decide.", resp.Refusal)
}

func TestAnthropicErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"type":"error"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestAnthropicClient(server.URL)
	_, err := client.CallFunction(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestNewClientProviderSelection(t *testing.T) {
	_, err := NewClient(Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)

	_, err = NewClient(Config{Provider: "Anthropic", APIKey: "k"})
	require.NoError(t, err)

	_, err = NewClient(Config{Provider: "cohere", APIKey: "k"})
	require.Error(t, err)

	_, err = NewClient(Config{Provider: "anthropic"})
	require.Error(t, err)
}

func TestRateLimiterBlocksWhenExhausted(t *testing.T) {
	limiter := NewRateLimiter(2)
	defer limiter.Close()
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))

	// With the bucket empty, Wait should respect cancellation.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := limiter.Wait(canceled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
