package consolidate_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/embeddings/mock"
	"github.com/engramlabs/engram/pkg/llm"
	"github.com/engramlabs/engram/pkg/llm/static"
	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/memstore"
	"github.com/engramlabs/engram/pkg/selfmodel"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/storage/inmemory"
	"github.com/engramlabs/engram/pkg/summarizer"
	"github.com/engramlabs/engram/pkg/vector/chromem"
)

var _ = Describe("Runner", func() {
	var (
		ctx      context.Context
		st       storage.Driver
		store    *memstore.Store
		graph    *selfmodel.Graph
		provider *static.Provider
		runner   *consolidate.Runner
		conv     *memory.Conversation
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = inmemory.NewDriver()
		vec, err := chromem.NewChromemDriver(chromem.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		provider = static.NewProvider()
		provider.CompleteFunc = func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Message: llm.Message{Role: "assistant", Content: "a quiet day of steady progress"},
			}, nil
		}
		sum, err := summarizer.NewSummarizer(provider, summarizer.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		store, err = memstore.NewStore(st, vec, mock.NewEmbedder(0), sum, memstore.Config{
			HotTokenBudget: 100000,
			MinTail:        2,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		graph, err = selfmodel.NewGraph(st, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		runner, err = consolidate.NewRunner(store, st, graph, sum, provider, consolidate.Config{
			Window: 7 * 24 * time.Hour,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		conv, err = store.CreateConversation(ctx, "owner-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AppendMessage(ctx, conv.ID, memory.RoleUser, "the reef survey starts in march")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AppendMessage(ctx, conv.ID, memory.RoleAgent, "noted, march it is")
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires an owner id", func() {
		Expect(runner.Run(ctx, "")).To(MatchError(memory.ErrInvalidInput))
	})

	Describe("journals", func() {
		It("writes one journal for the day and indexes it", func() {
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			journals, err := st.Journals(ctx, "owner-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(journals).To(HaveLen(1))
			Expect(journals[0].Body).To(Equal("a quiet day of steady progress"))
			Expect(journals[0].Date).To(Equal(time.Now().UTC().Format("2006-01-02")))

			records, err := st.ListRecords(ctx, storage.RecordFilter{
				OwnerID: "owner-1",
				Types:   []memory.RecordType{memory.RecordJournal},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})

		It("is idempotent across reruns", func() {
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			journals, err := st.Journals(ctx, "owner-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(journals).To(HaveLen(1))

			records, err := st.ListRecords(ctx, storage.RecordFilter{
				OwnerID: "owner-1",
				Types:   []memory.RecordType{memory.RecordJournal},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})
	})

	Describe("gap repair", func() {
		var gapID string

		BeforeEach(func() {
			placeholder := &memory.Summary{
				ID:             "sum-gap",
				ConversationID: conv.ID,
				StartSeq:       1,
				EndSeq:         2,
				Text:           "[summary unavailable for turns 1-2]",
				TokenCount:     9,
			}
			Expect(st.PutSummary(ctx, placeholder)).To(Succeed())

			gapID = "gap-1"
			Expect(st.PutRecord(ctx, &memory.Record{
				ID:      gapID,
				Type:    memory.RecordRawChunk,
				Text:    "compaction gap",
				OwnerID: "owner-1",
				Metadata: map[string]string{
					memstore.GapMetadataKey: memstore.GapMetadataValue,
					"conversation_id":       conv.ID,
					"summary_id":            "sum-gap",
					"start_seq":             "1",
					"end_seq":               "2",
				},
			})).To(Succeed())
		})

		It("re-summarizes the span and retires the gap record", func() {
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			sums, err := st.Summaries(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sums).To(HaveLen(1))
			Expect(sums[0].Text).NotTo(ContainSubstring("unavailable"))
			Expect(sums[0].StartSeq).To(Equal(1))
			Expect(sums[0].EndSeq).To(Equal(2))

			_, err = st.GetRecord(ctx, gapID)
			Expect(err).To(HaveOccurred())
		})

		It("defers the gap when the conversation is locked", func() {
			Expect(store.TryLockConversation(conv.ID)).To(BeTrue())
			defer store.UnlockConversation(conv.ID)

			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			_, err := st.GetRecord(ctx, gapID)
			Expect(err).NotTo(HaveOccurred())

			sums, err := st.Summaries(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sums[0].Text).To(ContainSubstring("unavailable"))
		})

		It("leaves the gap in place when re-summarization fails", func() {
			provider.CompleteFunc = func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
				return nil, fmt.Errorf("model down")
			}

			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			_, err := st.GetRecord(ctx, gapID)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("observations", func() {
		BeforeEach(func() {
			provider.CompleteFunc = func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				content := "a quiet day of steady progress"
				if strings.Contains(req.System, "durable notes") {
					content = "communication: prefers terse answers\ninterests: reef ecology\nnot a note line"
				}
				return &llm.ChatResponse{
					Message: llm.Message{Role: "assistant", Content: content},
				}, nil
			}
		})

		It("stores parsed notes and indexes them", func() {
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			obs, err := st.Observations(ctx, "owner-1", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(obs).To(HaveLen(2))

			interests, err := st.Observations(ctx, "owner-1", "interests")
			Expect(err).NotTo(HaveOccurred())
			Expect(interests).To(HaveLen(1))
			Expect(interests[0].Content).To(Equal("reef ecology"))

			records, err := st.ListRecords(ctx, storage.RecordFilter{
				OwnerID: "owner-1",
				Types:   []memory.RecordType{memory.RecordObservation},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		It("does not duplicate notes across reruns", func() {
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())
			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			obs, err := st.Observations(ctx, "owner-1", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(obs).To(HaveLen(2))
		})
	})

	Describe("self-model grounding", func() {
		It("attaches evidence from records matching a proposed claim", func() {
			node, err := graph.AddNode(ctx, memory.NodeObservation, "reef survey", 0.5)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.WriteRecord(ctx, &memory.Record{
				Type:    memory.RecordObservation,
				Text:    "planning the reef survey with ana",
				OwnerID: "owner-1",
			})).To(Succeed())

			Expect(runner.Run(ctx, "owner-1")).To(Succeed())

			coverage, err := graph.EvidenceCoverage(ctx, node.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(coverage).To(BeNumerically(">=", 1))

			got, err := st.GetNode(ctx, node.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(memory.StateGrounded))
		})
	})
})

var _ = Describe("Pool", func() {
	It("processes queued jobs and drains on close", func() {
		st := inmemory.NewDriver()
		vec, err := chromem.NewChromemDriver(chromem.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		provider := static.NewProvider()
		sum, err := summarizer.NewSummarizer(provider, summarizer.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		store, err := memstore.NewStore(st, vec, mock.NewEmbedder(0), sum, memstore.Config{
			HotTokenBudget: 100000,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		graph, err := selfmodel.NewGraph(st, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		runner, err := consolidate.NewRunner(store, st, graph, sum, provider, consolidate.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, "owner-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AppendMessage(ctx, conv.ID, memory.RoleUser, "hello")
		Expect(err).NotTo(HaveOccurred())

		pool, err := consolidate.NewPool(&consolidate.PoolConfig{
			Runner: runner,
			Logger: zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(pool.Enqueue(consolidate.Job{OwnerID: "owner-1"})).To(BeTrue())
		pool.Close()

		journals, err := st.Journals(ctx, "owner-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(journals).To(HaveLen(1))
	})
})

var _ = Describe("Scheduler", func() {
	It("enqueues a job per owner each cycle", func() {
		st := inmemory.NewDriver()
		vec, err := chromem.NewChromemDriver(chromem.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		provider := static.NewProvider()
		sum, err := summarizer.NewSummarizer(provider, summarizer.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		store, err := memstore.NewStore(st, vec, mock.NewEmbedder(0), sum, memstore.Config{
			HotTokenBudget: 100000,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		graph, err := selfmodel.NewGraph(st, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		runner, err := consolidate.NewRunner(store, st, graph, sum, provider, consolidate.Config{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, "owner-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AppendMessage(ctx, conv.ID, memory.RoleUser, "hello")
		Expect(err).NotTo(HaveOccurred())

		pool, err := consolidate.NewPool(&consolidate.PoolConfig{Runner: runner, Logger: zap.NewNop()})
		Expect(err).NotTo(HaveOccurred())

		owners := func(context.Context) ([]string, error) { return []string{"owner-1"}, nil }
		sched, err := consolidate.NewScheduler(pool, owners, 10*time.Millisecond, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		sched.Start(ctx)
		Eventually(func() int {
			journals, err := st.Journals(ctx, "owner-1")
			if err != nil {
				return 0
			}
			return len(journals)
		}).Should(Equal(1))
		sched.Stop()
	})
})
