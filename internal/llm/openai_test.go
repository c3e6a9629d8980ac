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

func newTestOpenAIClient(serverURL string) *openAIClient {
	return &openAIClient{
		httpClient:  http.DefaultClient,
		baseURL:     serverURL,
		apiKey:      "test-key",
		model:       "gpt-4o",
		temperature: 0.3,
		maxTokens:   500,
	}
}

func sampleRequest() FunctionCallRequest {
	return FunctionCallRequest{
		System: "You decide things.",
		User:   "An email arrived.",
		Functions: []FunctionDef{{
			Name:        "rule_0",
			Description: "Receipts",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"reason": map[string]any{"type": "string"}},
				"required":   []string{"reason"},
			},
		}},
	}
}

func TestOpenAIFunctionCall(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"tool_calls": [{
						"type": "function",
						"function": {"name": "rule_0", "arguments": "{\"reason\":\"it is a receipt\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)
	resp, err := client.CallFunction(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "rule_0", resp.Name)
	assert.False(t, resp.Refused())
	var args map[string]string
	require.NoError(t, json.Unmarshal(resp.Arguments, &args))
	assert.Equal(t, "it is a receipt", args["reason"])

	// The request must force a function call over every offered function.
	assert.Equal(t, "required", gotBody["tool_choice"])
	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestOpenAIProseAnswerIsARefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {"role": "assistant", "content": "I would rather not."},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)
	resp, err := client.CallFunction(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, resp.Refused())
	assert.Equal(t, "I would rather not.", resp.Refusal)
}

func TestOpenAIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)
	_, err := client.CallFunction(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	_, err := newOpenAIClient(Config{})
	require.Error(t, err)
}
