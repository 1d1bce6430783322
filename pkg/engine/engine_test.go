package engine_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/engine"
	"github.com/engramlabs/engram/pkg/memory"
)

// testConfig wires every component against in-process backends so the
// full stack can run without external services.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Storage.SQLitePath = ":memory:"
	cfg.VectorStore.Provider = "chromem"
	cfg.VectorStore.Path = ""
	cfg.Embedding.Provider = "mock"
	cfg.LLM.Provider = "static"
	return cfg
}

var _ = Describe("Engine", func() {
	var (
		ctx context.Context
		eng *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		eng, err = engine.New(testConfig(), GinkgoT().TempDir(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(eng.Close()).To(Succeed())
	})

	It("requires a config", func() {
		_, err := engine.New(nil, "", zap.NewNop())
		Expect(err).To(HaveOccurred())
	})

	It("rejects a hot budget that eats into the retrieval reserve", func() {
		cfg := testConfig()
		cfg.Memory.HotTokenBudget = cfg.Context.Budget - cfg.Context.RetrievalReserve + 1

		_, err := engine.New(cfg, GinkgoT().TempDir(), zap.NewNop())
		Expect(err).To(MatchError(ContainSubstring("retrieval reserve")))
	})

	It("runs a turn through the full stack", func() {
		conv, err := eng.Store.CreateConversation(ctx, "owner-1")
		Expect(err).NotTo(HaveOccurred())

		_, err = eng.Store.AppendMessage(ctx, conv.ID, memory.RoleUser, "the reef survey starts in march")
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.Store.AppendMessage(ctx, conv.ID, memory.RoleAgent, "noted, march it is")
		Expect(err).NotTo(HaveOccurred())

		out, err := eng.Assembler.Assemble(ctx, conv.ID, "owner-1", "when does the survey start")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Messages).To(HaveLen(2))
		Expect(out.Render()).To(ContainSubstring("reef survey"))
	})

	It("consolidates through the wired runner", func() {
		conv, err := eng.Store.CreateConversation(ctx, "owner-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.Store.AppendMessage(ctx, conv.ID, memory.RoleUser, "hello there")
		Expect(err).NotTo(HaveOccurred())

		Expect(eng.Runner.Run(ctx, "owner-1")).To(Succeed())
	})

	It("builds a scheduler from the configured interval", func() {
		sched, err := eng.NewScheduler()
		Expect(err).NotTo(HaveOccurred())

		sched.Start(ctx)
		sched.Stop()
	})
})
