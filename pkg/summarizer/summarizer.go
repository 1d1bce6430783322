// Package summarizer compresses spans of conversation messages into short
// summaries using an LLM provider.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/llm"
	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/tokens"
)

const systemPrompt = `You compress conversation transcripts into dense summaries.

Preserve:
- named entities (people, projects, tools, places)
- decisions made and their stated reasons
- open questions and unresolved threads
- numbers, dates, and identifiers verbatim

Drop filler, greetings, and repetition. Write in terse third person.
Output only the summary text.`

// Config describes how the summarizer calls its provider.
type Config struct {
	// Model is the model name passed through to the provider.
	Model string

	// MaxTokens caps the length of generated summaries.
	MaxTokens int
}

// Summarizer compresses message spans via an LLM provider.
type Summarizer struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewSummarizer creates a summarizer backed by the given provider.
func NewSummarizer(provider llm.Provider, cfg Config, logger *zap.Logger) (*Summarizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}

	return &Summarizer{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Summarize compresses msgs into a single summary string. The messages must
// be non-empty and are rendered oldest first. Provider failures are wrapped
// as transient so callers can retry with a smaller span.
func (s *Summarizer) Summarize(ctx context.Context, msgs []*memory.Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("%w: no messages to summarize", memory.ErrInvalidInput)
	}

	var transcript strings.Builder
	for _, m := range msgs {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	resp, err := s.provider.Complete(ctx, &llm.ChatRequest{
		Model:  s.cfg.Model,
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: transcript.String()},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("%w: summarization failed: %v", memory.ErrTransient, err)
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: provider returned empty summary", memory.ErrTransient)
	}

	s.logger.Debug("summarized message span",
		zap.Int("messages", len(msgs)),
		zap.Int("summary_tokens", tokens.Estimate(text)),
	)

	return text, nil
}
