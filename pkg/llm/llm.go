// Package llm defines the provider-agnostic completion interface consumed by
// the summarizer and consolidation jobs.
//
// Providers are pluggable via configuration:
//
//	[llm]
//	provider = "ollama"   # or "static"
package llm

import "context"

// Message is a single chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage contains token counts reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// ChatResponse is a provider-agnostic completion response.
type ChatResponse struct {
	Model      string  `json:"model"`
	Message    Message `json:"message"`
	StopReason string  `json:"stop_reason,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
}

// Provider issues completion calls against an LLM backend.
type Provider interface {
	// Complete runs a single chat completion. Implementations must honor
	// ctx cancellation and deadlines; callers bound summarization calls
	// with a timeout of tens of seconds.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Close releases provider resources.
	Close() error
}
