package sqlitevec_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/vector"
	"github.com/engramlabs/engram/pkg/vector/sqlitevec"
)

var _ = Describe("SQLiteVecDriver", func() {
	var logger *zap.Logger

	BeforeEach(func() {
		logger = zap.NewNop()
	})

	Describe("NewSQLiteVecDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{DBPath: ""}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})

		It("should create a driver with an in-memory database", func() {
			driver, err := sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver).NotTo(BeNil())
			Expect(driver.Close()).To(Succeed())
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
				DBPath: ":memory:",
			}, logger)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Interface compliance", func() {
		It("should implement vector.Driver interface", func() {
			var _ vector.Driver = (*sqlitevec.SQLiteVecDriver)(nil)
		})
	})

	Describe("Add and Query", func() {
		var driver *sqlitevec.SQLiteVecDriver

		BeforeEach(func() {
			var err error
			driver, err = sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(driver.Close()).To(Succeed())
		})

		It("should do nothing when given empty docs", func() {
			err := driver.Add(context.Background(), []vector.Document{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject documents without an owner", func() {
			err := driver.Add(context.Background(), []vector.Document{
				{ID: "doc-1", Embedding: []float32{0.1, 0.2, 0.3, 0.4}},
			})
			Expect(err).To(MatchError(vector.ErrOwnerRequired))
		})

		It("should reject queries without an owner filter", func() {
			_, err := driver.Query(context.Background(), []float32{0.1, 0.2, 0.3, 0.4}, 5, vector.Filter{})
			Expect(err).To(MatchError(vector.ErrOwnerRequired))
		})

		It("should return the most similar document first", func() {
			docs := []vector.Document{
				{ID: "a", OwnerID: "u1", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}},
				{ID: "b", OwnerID: "u1", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{0, 1, 0, 0}},
			}
			Expect(driver.Add(context.Background(), docs)).To(Succeed())

			results, err := driver.Query(context.Background(), []float32{1, 0, 0, 0}, 2, vector.Filter{OwnerID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("a"))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
		})

		It("should never return another owner's documents", func() {
			docs := []vector.Document{
				{ID: "mine", OwnerID: "u1", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}},
				{ID: "theirs", OwnerID: "u2", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}},
			}
			Expect(driver.Add(context.Background(), docs)).To(Succeed())

			results, err := driver.Query(context.Background(), []float32{1, 0, 0, 0}, 10, vector.Filter{OwnerID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("mine"))
		})

		It("should filter by record type", func() {
			docs := []vector.Document{
				{ID: "s", OwnerID: "u1", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}},
				{ID: "o", OwnerID: "u1", Type: "observation", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}},
			}
			Expect(driver.Add(context.Background(), docs)).To(Succeed())

			results, err := driver.Query(context.Background(), []float32{1, 0, 0, 0}, 10, vector.Filter{
				OwnerID: "u1",
				Types:   []string{"observation"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("o"))
		})

		It("should update an existing document on re-add", func() {
			doc := vector.Document{ID: "a", OwnerID: "u1", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}}
			Expect(driver.Add(context.Background(), []vector.Document{doc})).To(Succeed())

			doc.Embedding = []float32{0, 0, 0, 1}
			Expect(driver.Add(context.Background(), []vector.Document{doc})).To(Succeed())

			results, err := driver.Query(context.Background(), []float32{0, 0, 0, 1}, 1, vector.Filter{OwnerID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("a"))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 0.01))
		})
	})

	Describe("Delete", func() {
		It("should remove documents so they no longer match", func() {
			driver, err := sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
			defer driver.Close()

			doc := vector.Document{ID: "a", OwnerID: "u1", Type: "summary", CreatedAt: time.Now(), Embedding: []float32{1, 0, 0, 0}}
			Expect(driver.Add(context.Background(), []vector.Document{doc})).To(Succeed())
			Expect(driver.Delete(context.Background(), []string{"a"})).To(Succeed())

			results, err := driver.Query(context.Background(), []float32{1, 0, 0, 0}, 5, vector.Filter{OwnerID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})
	})
})
