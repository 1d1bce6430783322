package inmemory_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/storage/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		ctx context.Context
		d   *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = inmemory.NewDriver()
	})

	newConversation := func(id, owner string) *memory.Conversation {
		c := &memory.Conversation{ID: id, OwnerID: owner}
		Expect(d.CreateConversation(ctx, c)).To(Succeed())
		return c
	}

	Describe("conversations", func() {
		It("stores and retrieves a conversation", func() {
			newConversation("conv-1", "owner-1")

			got, err := d.GetConversation(ctx, "conv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.OwnerID).To(Equal("owner-1"))
			Expect(got.CreatedAt).NotTo(BeZero())
		})

		It("returns not-found for a missing conversation", func() {
			_, err := d.GetConversation(ctx, "nope")
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Kind).To(Equal("conversation"))
		})

		It("lists conversations per owner", func() {
			newConversation("conv-1", "owner-1")
			newConversation("conv-2", "owner-1")
			newConversation("conv-3", "owner-2")

			list, err := d.ListConversations(ctx, "owner-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})

		It("lists distinct owners", func() {
			newConversation("conv-1", "owner-b")
			newConversation("conv-2", "owner-a")
			newConversation("conv-3", "owner-a")

			owners, err := d.Owners(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal([]string{"owner-a", "owner-b"}))
		})
	})

	Describe("messages", func() {
		BeforeEach(func() {
			newConversation("conv-1", "owner-1")
		})

		It("assigns monotonic sequence numbers", func() {
			for i := 0; i < 3; i++ {
				m := &memory.Message{ID: string(rune('a' + i)), ConversationID: "conv-1", Role: memory.RoleUser, Content: "x"}
				Expect(d.AppendMessage(ctx, m)).To(Succeed())
				Expect(m.Seq).To(Equal(i + 1))
			}
		})

		It("rejects appends to a missing conversation", func() {
			err := d.AppendMessage(ctx, &memory.Message{ID: "m", ConversationID: "nope"})
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("returns messages from a sequence and by range", func() {
			for i := 0; i < 5; i++ {
				Expect(d.AppendMessage(ctx, &memory.Message{
					ID: string(rune('a' + i)), ConversationID: "conv-1", Role: memory.RoleUser, Content: "x",
				})).To(Succeed())
			}

			since, err := d.Messages(ctx, "conv-1", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(since).To(HaveLen(3))
			Expect(since[0].Seq).To(Equal(3))

			span, err := d.MessageRange(ctx, "conv-1", 2, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(span).To(HaveLen(3))
			Expect(span[0].Seq).To(Equal(2))
			Expect(span[2].Seq).To(Equal(4))
		})
	})

	Describe("summaries", func() {
		BeforeEach(func() {
			newConversation("conv-1", "owner-1")
		})

		It("rejects overlapping ranges", func() {
			Expect(d.PutSummary(ctx, &memory.Summary{
				ID: "s1", ConversationID: "conv-1", StartSeq: 1, EndSeq: 10, Text: "a",
			})).To(Succeed())

			err := d.PutSummary(ctx, &memory.Summary{
				ID: "s2", ConversationID: "conv-1", StartSeq: 10, EndSeq: 20, Text: "b",
			})
			Expect(errors.Is(err, memory.ErrConflict)).To(BeTrue())

			Expect(d.PutSummary(ctx, &memory.Summary{
				ID: "s3", ConversationID: "conv-1", StartSeq: 11, EndSeq: 20, Text: "c",
			})).To(Succeed())
		})

		It("updates text without touching the range", func() {
			Expect(d.PutSummary(ctx, &memory.Summary{
				ID: "s1", ConversationID: "conv-1", StartSeq: 1, EndSeq: 10, Text: "old", TokenCount: 1,
			})).To(Succeed())

			Expect(d.UpdateSummary(ctx, &memory.Summary{ID: "s1", Text: "new", TokenCount: 2})).To(Succeed())

			sums, err := d.Summaries(ctx, "conv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sums[0].Text).To(Equal("new"))
			Expect(sums[0].StartSeq).To(Equal(1))
			Expect(sums[0].EndSeq).To(Equal(10))
		})

		It("frees a deleted summary's range for a replacement", func() {
			Expect(d.PutSummary(ctx, &memory.Summary{
				ID: "s1", ConversationID: "conv-1", StartSeq: 1, EndSeq: 10, Text: "a",
			})).To(Succeed())

			Expect(d.DeleteSummary(ctx, "s1")).To(Succeed())

			Expect(d.PutSummary(ctx, &memory.Summary{
				ID: "s2", ConversationID: "conv-1", StartSeq: 1, EndSeq: 20, Text: "merged",
			})).To(Succeed())

			sums, err := d.Summaries(ctx, "conv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sums).To(HaveLen(1))
			Expect(sums[0].ID).To(Equal("s2"))
		})

		It("returns not-found when deleting a missing summary", func() {
			err := d.DeleteSummary(ctx, "nope")
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})

	Describe("records", func() {
		BeforeEach(func() {
			for _, r := range []*memory.Record{
				{ID: "r1", Type: memory.RecordSummary, Text: "planning the reef survey", OwnerID: "owner-1"},
				{ID: "r2", Type: memory.RecordObservation, Text: "prefers terse answers", OwnerID: "owner-1"},
				{ID: "r3", Type: memory.RecordObservation, Text: "reef diving certified", OwnerID: "owner-2"},
			} {
				Expect(d.PutRecord(ctx, r)).To(Succeed())
			}
		})

		It("filters by owner and type", func() {
			got, err := d.ListRecords(ctx, storage.RecordFilter{
				OwnerID: "owner-1",
				Types:   []memory.RecordType{memory.RecordObservation},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("r2"))
		})

		It("matches keywords case-insensitively", func() {
			got, err := d.ListRecords(ctx, storage.RecordFilter{OwnerID: "owner-1", Keyword: "REEF"})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("r1"))
		})

		It("deletes without error when missing", func() {
			Expect(d.DeleteRecord(ctx, "r1")).To(Succeed())
			Expect(d.DeleteRecord(ctx, "r1")).To(Succeed())
		})

		It("returns copies of metadata", func() {
			r := &memory.Record{
				ID: "r4", Type: memory.RecordObservation, Text: "short replies", OwnerID: "owner-1",
				Metadata: map[string]string{"category": "communication"},
			}
			Expect(d.PutRecord(ctx, r)).To(Succeed())
			r.Metadata["category"] = "mutated after put"

			got, err := d.GetRecord(ctx, "r4")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Metadata).To(HaveKeyWithValue("category", "communication"))
			got.Metadata["category"] = "mutated after get"

			again, err := d.GetRecord(ctx, "r4")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Metadata).To(HaveKeyWithValue("category", "communication"))
		})
	})

	Describe("journals", func() {
		It("replaces wholesale per owner and date", func() {
			Expect(d.UpsertJournal(ctx, &memory.Journal{
				ID: "j1", OwnerID: "owner-1", Date: "2026-08-30", Body: "first draft",
			})).To(Succeed())
			Expect(d.UpsertJournal(ctx, &memory.Journal{
				ID: "j2", OwnerID: "owner-1", Date: "2026-08-30", Body: "regenerated",
			})).To(Succeed())

			got, err := d.Journal(ctx, "owner-1", "2026-08-30")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Body).To(Equal("regenerated"))

			all, err := d.Journals(ctx, "owner-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Describe("observations", func() {
		It("filters by category", func() {
			Expect(d.AddObservation(ctx, &memory.Observation{
				ID: "o1", OwnerID: "owner-1", Category: "communication", Content: "short replies",
			})).To(Succeed())
			Expect(d.AddObservation(ctx, &memory.Observation{
				ID: "o2", OwnerID: "owner-1", Category: "interests", Content: "marine biology",
			})).To(Succeed())

			got, err := d.Observations(ctx, "owner-1", "interests")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Content).To(Equal("marine biology"))
		})
	})

	Describe("profiles", func() {
		It("upserts and retrieves", func() {
			Expect(d.UpsertProfile(ctx, &memory.Profile{OwnerID: "owner-1", Background: "biologist"})).To(Succeed())
			Expect(d.UpsertProfile(ctx, &memory.Profile{OwnerID: "owner-1", Background: "marine biologist"})).To(Succeed())

			got, err := d.Profile(ctx, "owner-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Background).To(Equal("marine biologist"))
		})
	})

	Describe("nodes and edges", func() {
		It("filters nodes by type and state", func() {
			Expect(d.PutNode(ctx, &memory.Node{
				ID: "n1", Type: memory.NodeCapability, State: memory.StateProposed, Content: "a",
			})).To(Succeed())
			Expect(d.PutNode(ctx, &memory.Node{
				ID: "n2", Type: memory.NodeCapability, State: memory.StateGrounded, Content: "b",
			})).To(Succeed())

			got, err := d.Nodes(ctx, storage.NodeFilter{
				Types:  []memory.NodeType{memory.NodeCapability},
				States: []memory.NodeState{memory.StateGrounded},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("n2"))
		})

		It("returns copies of evidence refs", func() {
			n := &memory.Node{
				ID: "n1", Type: memory.NodeCapability, State: memory.StateProposed,
				Content: "a", EvidenceRefs: []string{"r1"},
			}
			Expect(d.PutNode(ctx, n)).To(Succeed())

			got, err := d.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			got.EvidenceRefs[0] = "mutated"

			again, err := d.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.EvidenceRefs).To(Equal([]string{"r1"}))
		})

		It("accumulates evidence refs across updates", func() {
			Expect(d.PutNode(ctx, &memory.Node{
				ID: "n1", Type: memory.NodeCapability, State: memory.StateProposed,
				Content: "a", EvidenceRefs: []string{"r1"},
			})).To(Succeed())

			Expect(d.UpdateNode(ctx, &memory.Node{
				ID: "n1", Type: memory.NodeCapability, State: memory.StateGrounded,
				Content: "a", EvidenceRefs: []string{"r2"},
			})).To(Succeed())

			got, err := d.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(memory.StateGrounded))
			Expect(got.EvidenceRefs).To(ConsistOf("r1", "r2"))
		})

		It("returns edges touching a node", func() {
			for _, id := range []string{"n1", "n2", "n3"} {
				Expect(d.PutNode(ctx, &memory.Node{
					ID: id, Type: memory.NodeCapability, State: memory.StateProposed, Content: id,
				})).To(Succeed())
			}
			Expect(d.PutEdge(ctx, &memory.Edge{ID: "e1", From: "n1", To: "n2", Relation: memory.RelationSupports})).To(Succeed())
			Expect(d.PutEdge(ctx, &memory.Edge{ID: "e2", From: "n2", To: "n3", Relation: memory.RelationContradicts})).To(Succeed())

			got, err := d.Edges(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("e1"))

			all, err := d.Edges(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})
	})

	Describe("Stats", func() {
		It("counts per tier", func() {
			newConversation("conv-1", "owner-1")
			Expect(d.AppendMessage(ctx, &memory.Message{
				ID: "m1", ConversationID: "conv-1", Role: memory.RoleUser, Content: "x",
			})).To(Succeed())
			Expect(d.PutRecord(ctx, &memory.Record{
				ID: "r1", Type: memory.RecordSummary, Text: "t", OwnerID: "owner-1",
			})).To(Succeed())

			stats, err := d.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Conversations).To(Equal(1))
			Expect(stats.Messages).To(Equal(1))
			Expect(stats.Records).To(Equal(1))
		})
	})
})
