// Package llm defines the provider-agnostic interface for the planning
// service. The engine treats the language model as a black box that either
// selects tool calls or returns free text.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends one planning request and returns the model's reply.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request is a single planning call.
type Request struct {
	SystemPrompt string
	UserMessage  string
	Tools        []ToolDefinition // nil = no tool use offered
	MaxTokens    int
	ForceJSON    bool // Ask the model for a JSON object response (plan decomposition).
}

// ToolDefinition describes a tool the model can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is the model's selection of a tool with raw argument JSON.
// Arguments stay raw at this boundary; the tool executor owns parsing.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Response is what the model returns: free text, tool calls, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// HasToolCalls reports whether the model selected at least one tool.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
