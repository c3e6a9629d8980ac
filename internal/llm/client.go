// Package llm provides language-model clients behind a single structured
// function-call primitive: given prompts and a closed set of function
// schemas, the model must invoke exactly one function or refuse.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// FunctionDef describes one callable function offered to the model.
// Parameters is a JSON schema object.
type FunctionDef struct {
	Parameters  map[string]any
	Name        string
	Description string
}

// FunctionCallRequest is one structured round-trip to the model.
type FunctionCallRequest struct {
	System    string
	User      string
	Functions []FunctionDef
}

// FunctionCallResponse is either a selected function with arguments or a
// refusal/parse-failure signal.
type FunctionCallResponse struct {
	Name      string
	Arguments json.RawMessage
	Refusal   string
}

// Refused reports whether the model declined to call any function.
func (r *FunctionCallResponse) Refused() bool { return r.Name == "" }

// Client defines the interface for LLM providers.
type Client interface {
	CallFunction(ctx context.Context, req FunctionCallRequest) (FunctionCallResponse, error)
}

// Config holds configuration for the LLM layer.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	MaxTokens   int
	Temperature float64
}
