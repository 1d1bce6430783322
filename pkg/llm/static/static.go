// Package static provides a canned implementation of llm.Provider for tests
// and offline development.
//
// By default the provider echoes a truncated concatenation of the request
// messages, which is deterministic and preserves any literal facts the input
// contained. A CompleteFunc hook lets tests script failures and custom
// outputs.
package static

import (
	"context"
	"strings"

	"github.com/engramlabs/engram/pkg/llm"
)

// maxEchoLen bounds the default echoed response.
const maxEchoLen = 512

// Provider implements llm.Provider with scripted responses.
type Provider struct {
	// CompleteFunc, when set, handles every Complete call.
	CompleteFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// Calls counts Complete invocations, for test assertions.
	Calls int
}

// NewProvider creates a static provider with the default echo behavior.
func NewProvider() *Provider {
	return &Provider{}
}

// Complete returns a scripted or echoed response.
func (p *Provider) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.Calls++

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}

	var b strings.Builder
	for _, m := range req.Messages {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(m.Content)
	}

	text := b.String()
	if len(text) > maxEchoLen {
		text = text[:maxEchoLen]
	}

	return &llm.ChatResponse{
		Model:      req.Model,
		Message:    llm.Message{Role: "assistant", Content: text},
		StopReason: "stop",
	}, nil
}

// Close is a no-op for the static provider.
func (p *Provider) Close() error {
	return nil
}

var _ llm.Provider = (*Provider)(nil)
