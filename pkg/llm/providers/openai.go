// Package providers holds concrete LLM provider bindings implementing
// llm.Provider.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/llm"
)

// OpenAIProvider implements llm.Provider against the OpenAI chat completions
// API, exercising the router with at least one concrete binding (spec.md
// treats providers as an external collaborator, but a complete repo needs
// one real client to drive the fallback chain against).
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	oreq := toOpenAIRequest(req)
	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, classify(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.LlmError{Reason: domain.LlmOther, Model: req.Model, Cause: errors.New("no choices returned")}
	}
	choice := resp.Choices[0]
	out := &llm.Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	oreq := toOpenAIRequest(req)
	oreq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, classify(req.Model, err)
	}

	out := make(chan llm.StreamEvent, 8)
	go func() {
		defer close(out)
		defer stream.Close()

		var content string
		out <- llm.StreamEvent{Kind: llm.StreamStart}
		for {
			chunk, err := stream.Recv()
			if err != nil {
				out <- llm.StreamEvent{Kind: llm.StreamEnd, Response: &llm.Response{Content: content, Model: req.Model}}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			content += delta
			out <- llm.StreamEvent{Kind: llm.StreamChunk, Text: delta}
		}
	}()
	return out, nil
}

func toOpenAIRequest(req llm.Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		params, _ := json.Marshal(t.Parameters)
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
}

// classify maps an OpenAI SDK error onto the domain.LlmError taxonomy so the
// router can decide whether to fall back.
func classify(model string, err error) *domain.LlmError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &domain.LlmError{Reason: domain.LlmRateLimited, Model: model, Cause: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &domain.LlmError{Reason: domain.LlmAuthError, Model: model, Cause: err}
		case http.StatusBadRequest:
			if apiErr.Code == "context_length_exceeded" {
				return &domain.LlmError{Reason: domain.LlmContextLengthExceeded, Model: model, Cause: err}
			}
			return &domain.LlmError{Reason: domain.LlmBadRequest, Model: model, Cause: err}
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return &domain.LlmError{Reason: domain.LlmProviderDown, Model: model, Cause: err}
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.LlmError{Reason: domain.LlmProviderDown, Model: model, Cause: err}
	}
	return &domain.LlmError{Reason: domain.LlmOther, Model: model, Cause: err}
}
