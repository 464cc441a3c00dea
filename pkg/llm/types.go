// Package llm resolves a model id per call and dispatches the call through a
// provider, tracking per-model rate-limit cool-downs and walking a fallback
// chain on retriable failure.
package llm

import (
	"context"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    Role
	Content string
	// ToolCallID associates a RoleTool message with the call it answers.
	ToolCallID string
}

// ToolSpec describes one callable tool in JSON-schema-by-convention form.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema, convention-typed
}

// ToolCall is a model-issued invocation of one of the request's tools.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Request is a single completion call, independent of streaming mode.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Response is a non-streaming completion result.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Model     string
	// InputTokens/OutputTokens are used for context-window accounting.
	InputTokens  int
	OutputTokens int
}

// StreamEvent is one increment of a streaming completion; Kind selects which
// field is populated, mirroring the adapter-facing OutboundResponse shape.
type StreamEventKind string

const (
	StreamStart StreamEventKind = "start"
	StreamChunk StreamEventKind = "chunk"
	StreamEnd   StreamEventKind = "end"
)

type StreamEvent struct {
	Kind     StreamEventKind
	Text     string
	ToolCall *ToolCall
	Response *Response // set on StreamEnd
}

// Provider is a concrete LLM backend binding. Complete must classify any
// failure into a *domain.LlmError so the router can decide whether to
// fall back.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// classifyErr wraps a provider error into *domain.LlmError when the provider
// did not already do so.
func classifyErr(model string, err error) *domain.LlmError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*domain.LlmError); ok {
		return le
	}
	return &domain.LlmError{Reason: domain.LlmOther, Model: model, Cause: err}
}
