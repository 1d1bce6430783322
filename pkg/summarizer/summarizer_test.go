package summarizer_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/llm"
	"github.com/engramlabs/engram/pkg/llm/static"
	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/summarizer"
)

var _ = Describe("Summarizer", func() {
	var (
		provider *static.Provider
		sum      *summarizer.Summarizer
		ctx      context.Context
	)

	BeforeEach(func() {
		provider = static.NewProvider()
		var err error
		sum, err = summarizer.NewSummarizer(provider, summarizer.Config{Model: "test"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Describe("NewSummarizer", func() {
		It("rejects a nil provider", func() {
			_, err := summarizer.NewSummarizer(nil, summarizer.Config{}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Summarize", func() {
		It("returns invalid input for an empty span", func() {
			_, err := sum.Summarize(ctx, nil)
			Expect(errors.Is(err, memory.ErrInvalidInput)).To(BeTrue())
			Expect(provider.Calls).To(Equal(0))
		})

		It("produces a summary from the provider response", func() {
			provider.CompleteFunc = func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				Expect(req.Messages).To(HaveLen(1))
				Expect(req.Messages[0].Content).To(ContainSubstring("user: budget is 1200 EUR"))
				Expect(req.Messages[0].Content).To(ContainSubstring("agent: noted"))
				return &llm.ChatResponse{
					Message: llm.Message{Role: "assistant", Content: "  Budget fixed at 1200 EUR.  "},
				}, nil
			}

			text, err := sum.Summarize(ctx, []*memory.Message{
				{Role: memory.RoleUser, Content: "budget is 1200 EUR"},
				{Role: memory.RoleAgent, Content: "noted"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Budget fixed at 1200 EUR."))
		})

		It("wraps provider failures as transient", func() {
			provider.CompleteFunc = func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
				return nil, fmt.Errorf("connection refused")
			}

			_, err := sum.Summarize(ctx, []*memory.Message{
				{Role: memory.RoleUser, Content: "hello"},
			})
			Expect(errors.Is(err, memory.ErrTransient)).To(BeTrue())
		})

		It("treats an empty provider response as transient", func() {
			provider.CompleteFunc = func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
				return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "   "}}, nil
			}

			_, err := sum.Summarize(ctx, []*memory.Message{
				{Role: memory.RoleUser, Content: "hello"},
			})
			Expect(errors.Is(err, memory.ErrTransient)).To(BeTrue())
		})
	})
})
