package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/llm"
	"github.com/engramlabs/engram/pkg/llm/ollama"
)

var _ = Describe("Provider", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		captured map[string]any
	)

	BeforeEach(func() {
		ctx = context.Background()
		captured = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/chat"))
			Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())

			json.NewEncoder(w).Encode(map[string]any{
				"model":       "llama3.2",
				"message":     map[string]string{"role": "assistant", "content": "ok"},
				"done_reason": "stop",
			})
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newProvider := func() *ollama.Provider {
		p, err := ollama.NewProvider(ollama.Config{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("sends sampling knobs as ollama options", func() {
		p := newProvider()
		_, err := p.Complete(ctx, &llm.ChatRequest{
			Messages:    []llm.Message{{Role: "user", Content: "hi"}},
			MaxTokens:   512,
			Temperature: 0.3,
		})
		Expect(err).NotTo(HaveOccurred())

		opts, ok := captured["options"].(map[string]any)
		Expect(ok).To(BeTrue(), "request body should carry an options object")
		Expect(opts["num_predict"]).To(BeNumerically("==", 512))
		Expect(opts["temperature"]).To(BeNumerically("~", 0.3, 0.001))
	})

	It("omits options when no knobs are set", func() {
		p := newProvider()
		_, err := p.Complete(ctx, &llm.ChatRequest{
			Messages: []llm.Message{{Role: "user", Content: "hi"}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(captured).NotTo(HaveKey("options"))
	})

	It("prepends the system prompt and returns the reply", func() {
		p := newProvider()
		resp, err := p.Complete(ctx, &llm.ChatRequest{
			System:   "be brief",
			Messages: []llm.Message{{Role: "user", Content: "hi"}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Message.Content).To(Equal("ok"))
		Expect(resp.StopReason).To(Equal("stop"))

		msgs, ok := captured["messages"].([]any)
		Expect(ok).To(BeTrue())
		Expect(msgs).To(HaveLen(2))
		first := msgs[0].(map[string]any)
		Expect(first["role"]).To(Equal("system"))
	})
})
