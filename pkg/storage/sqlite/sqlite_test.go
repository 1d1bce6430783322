package sqlite_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/storage/sqlite"
)

var _ = Describe("SQLiteDriver", func() {
	var (
		ctx context.Context
		d   *sqlite.SQLiteDriver
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		d, err = sqlite.NewSQLiteDriver(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(d.Close()).To(Succeed())
	})

	newConversation := func(id, owner string) {
		Expect(d.CreateConversation(ctx, &memory.Conversation{ID: id, OwnerID: owner})).To(Succeed())
	}

	Describe("conversations", func() {
		It("round-trips through the schema", func() {
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

		It("allocates sequence numbers in the insert transaction", func() {
			for i := 0; i < 3; i++ {
				m := &memory.Message{
					ID:             fmt.Sprintf("m-%d", i),
					ConversationID: "conv-1",
					Role:           memory.RoleUser,
					Content:        "x",
				}
				Expect(d.AppendMessage(ctx, m)).To(Succeed())
				Expect(m.Seq).To(Equal(i + 1))
			}
		})

		It("rejects appends to a missing conversation", func() {
			err := d.AppendMessage(ctx, &memory.Message{ID: "m", ConversationID: "nope"})
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("reads back by range", func() {
			for i := 0; i < 5; i++ {
				Expect(d.AppendMessage(ctx, &memory.Message{
					ID:             fmt.Sprintf("m-%d", i),
					ConversationID: "conv-1",
					Role:           memory.RoleAgent,
					Content:        fmt.Sprintf("turn %d", i),
				})).To(Succeed())
			}

			span, err := d.MessageRange(ctx, "conv-1", 2, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(span).To(HaveLen(3))
			Expect(span[0].Content).To(Equal("turn 1"))
			Expect(span[0].Role).To(Equal(memory.RoleAgent))
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
				ID: "s2", ConversationID: "conv-1", StartSeq: 5, EndSeq: 15, Text: "b",
			})
			Expect(errors.Is(err, memory.ErrConflict)).To(BeTrue())
		})

		It("updates text in place", func() {
			Expect(d.PutSummary(ctx, &memory.Summary{
				ID: "s1", ConversationID: "conv-1", StartSeq: 1, EndSeq: 10, Text: "old",
			})).To(Succeed())

			Expect(d.UpdateSummary(ctx, &memory.Summary{ID: "s1", Text: "new", TokenCount: 2})).To(Succeed())

			sums, err := d.Summaries(ctx, "conv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sums[0].Text).To(Equal("new"))
			Expect(sums[0].EndSeq).To(Equal(10))
		})

		It("returns not-found when updating a missing summary", func() {
			err := d.UpdateSummary(ctx, &memory.Summary{ID: "nope", Text: "x"})
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
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
				{ID: "r2", Type: memory.RecordObservation, Text: "prefers terse answers", OwnerID: "owner-1",
					Metadata: map[string]string{"category": "communication"}},
				{ID: "r3", Type: memory.RecordObservation, Text: "reef diving certified", OwnerID: "owner-2"},
			} {
				Expect(d.PutRecord(ctx, r)).To(Succeed())
			}
		})

		It("round-trips metadata", func() {
			got, err := d.GetRecord(ctx, "r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Metadata).To(HaveKeyWithValue("category", "communication"))
		})

		It("replaces on re-put of the same id", func() {
			Expect(d.PutRecord(ctx, &memory.Record{
				ID: "r1", Type: memory.RecordSummary, Text: "revised plan", OwnerID: "owner-1",
			})).To(Succeed())

			got, err := d.GetRecord(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal("revised plan"))
		})

		It("filters by owner, type, and keyword", func() {
			got, err := d.ListRecords(ctx, storage.RecordFilter{OwnerID: "owner-1", Keyword: "REEF"})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("r1"))

			got, err = d.ListRecords(ctx, storage.RecordFilter{
				OwnerID: "owner-1",
				Types:   []memory.RecordType{memory.RecordObservation},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("r2"))
		})

		It("deletes without error when missing", func() {
			Expect(d.DeleteRecord(ctx, "r1")).To(Succeed())
			Expect(d.DeleteRecord(ctx, "r1")).To(Succeed())

			_, err := d.GetRecord(ctx, "r1")
			var notFound storage.ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
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
			Expect(d.UpsertJournal(ctx, &memory.Journal{
				ID: "j3", OwnerID: "owner-1", Date: "2026-08-31", Body: "next day",
			})).To(Succeed())

			got, err := d.Journal(ctx, "owner-1", "2026-08-30")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Body).To(Equal("regenerated"))

			all, err := d.Journals(ctx, "owner-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
			Expect(all[0].Date).To(Equal("2026-08-31"))
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

	Describe("self-model graph", func() {
		It("persists nodes with evidence refs", func() {
			n := &memory.Node{
				ID: "n1", Type: memory.NodeCapability, State: memory.StateProposed,
				Content: "explains tradeoffs clearly", Confidence: 0.4,
				EvidenceRefs: []string{"r1", "r2"},
			}
			Expect(d.PutNode(ctx, n)).To(Succeed())

			got, err := d.GetNode(ctx, "n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EvidenceRefs).To(ConsistOf("r1", "r2"))
			Expect(got.Confidence).To(BeNumerically("~", 0.4, 0.001))
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

		It("filters nodes by type and state", func() {
			Expect(d.PutNode(ctx, &memory.Node{
				ID: "n1", Type: memory.NodeCapability, State: memory.StateProposed, Content: "a",
			})).To(Succeed())
			Expect(d.PutNode(ctx, &memory.Node{
				ID: "n2", Type: memory.NodePreference, State: memory.StateGrounded, Content: "b",
			})).To(Succeed())

			got, err := d.Nodes(ctx, storage.NodeFilter{States: []memory.NodeState{memory.StateGrounded}})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("n2"))
		})

		It("returns edges touching a node", func() {
			for _, id := range []string{"n1", "n2", "n3"} {
				Expect(d.PutNode(ctx, &memory.Node{
					ID: id, Type: memory.NodeCapability, State: memory.StateProposed, Content: id,
				})).To(Succeed())
			}
			Expect(d.PutEdge(ctx, &memory.Edge{ID: "e1", From: "n1", To: "n2", Relation: memory.RelationSupports})).To(Succeed())
			Expect(d.PutEdge(ctx, &memory.Edge{ID: "e2", From: "n2", To: "n3", Relation: memory.RelationContradicts})).To(Succeed())

			got, err := d.Edges(ctx, "n3")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Relation).To(Equal(memory.RelationContradicts))
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
