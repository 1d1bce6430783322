// Package consolidate implements the periodic background pass over an
// owner's recent memory: repairing compaction gaps, writing daily journals,
// extracting observations, and grounding self-model claims with evidence.
//
// Runs are idempotent: journals for a date are replaced wholesale, records
// derived from a date use deterministic ids, and observations are
// deduplicated by content, so re-running a window never duplicates output.
package consolidate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/llm"
	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/memstore"
	"github.com/engramlabs/engram/pkg/selfmodel"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/summarizer"
	"github.com/engramlabs/engram/pkg/tokens"
)

const journalSystemPrompt = `You write a short daily journal entry from the day's
conversation transcript, in first person from the agent's perspective.

Capture themes, decisions, and anything worth remembering long-term.
Preserve names, numbers, and dates verbatim. Output only the journal body.`

const observationSystemPrompt = `You extract durable notes about the user from a
conversation transcript.

Output one note per line in the form "category: note", with category one of
communication, interests, preferences, context. Only note things likely to
still be true next month. Output nothing when there is nothing durable.`

// Config describes a consolidation run.
type Config struct {
	// Model is the model used for journal generation.
	Model string

	// Window is how far back a run looks.
	Window time.Duration
}

// Runner executes consolidation passes for single owners.
type Runner struct {
	store      *memstore.Store
	storage    storage.Driver
	graph      *selfmodel.Graph
	summarizer *summarizer.Summarizer
	provider   llm.Provider
	cfg        Config
	logger     *zap.Logger
}

// NewRunner creates a consolidation runner.
func NewRunner(
	store *memstore.Store,
	st storage.Driver,
	graph *selfmodel.Graph,
	sum *summarizer.Summarizer,
	provider llm.Provider,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	if store == nil || st == nil || graph == nil || sum == nil || provider == nil {
		return nil, fmt.Errorf("store, storage, graph, summarizer and provider are all required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}

	return &Runner{
		store:      store,
		storage:    st,
		graph:      graph,
		summarizer: sum,
		provider:   provider,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run executes one consolidation pass for an owner. Each phase logs and
// continues on failure; a partially completed run is picked up by the next
// cycle rather than retried here.
func (r *Runner) Run(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", memory.ErrInvalidInput)
	}

	r.logger.Info("consolidation run started",
		zap.String("owner_id", ownerID),
		zap.Duration("window", r.cfg.Window),
	)

	if err := r.repairGaps(ctx, ownerID); err != nil {
		r.logger.Warn("gap repair incomplete", zap.String("owner_id", ownerID), zap.Error(err))
	}

	byDay, err := r.windowMessagesByDay(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("collecting window messages: %w", err)
	}

	for date, msgs := range byDay {
		if err := r.writeJournal(ctx, ownerID, date, msgs); err != nil {
			r.logger.Warn("journal generation failed",
				zap.String("owner_id", ownerID),
				zap.String("date", date),
				zap.Error(err),
			)
		}
	}

	if err := r.extractObservations(ctx, ownerID, byDay); err != nil {
		r.logger.Warn("observation extraction incomplete", zap.String("owner_id", ownerID), zap.Error(err))
	}

	if err := r.groundSelfModel(ctx, ownerID); err != nil {
		r.logger.Warn("self-model grounding incomplete", zap.String("owner_id", ownerID), zap.Error(err))
	}

	r.logger.Info("consolidation run finished", zap.String("owner_id", ownerID))

	return nil
}

// repairGaps re-summarizes spans that compaction had to truncate. Each gap
// names its placeholder summary; a successful re-summarization replaces the
// placeholder text and retires the gap record. Conversations mid-compaction
// are skipped and retried next cycle.
func (r *Runner) repairGaps(ctx context.Context, ownerID string) error {
	records, err := r.storage.ListRecords(ctx, storage.RecordFilter{OwnerID: ownerID})
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}

	for _, rec := range records {
		if rec.Metadata[memstore.GapMetadataKey] != memstore.GapMetadataValue {
			continue
		}

		conversationID := rec.Metadata["conversation_id"]
		summaryID := rec.Metadata["summary_id"]
		startSeq, err1 := strconv.Atoi(rec.Metadata["start_seq"])
		endSeq, err2 := strconv.Atoi(rec.Metadata["end_seq"])
		if conversationID == "" || summaryID == "" || err1 != nil || err2 != nil {
			r.logger.Warn("malformed gap record skipped", zap.String("record_id", rec.ID))
			continue
		}

		if !r.store.TryLockConversation(conversationID) {
			r.logger.Debug("conversation busy, gap deferred",
				zap.String("conversation_id", conversationID),
			)
			continue
		}

		msgs, err := r.storage.MessageRange(ctx, conversationID, startSeq, endSeq)
		if err != nil {
			r.store.UnlockConversation(conversationID)
			r.logger.Warn("loading gap span failed", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		r.store.UnlockConversation(conversationID)

		text, err := r.summarizer.Summarize(ctx, msgs)
		if err != nil {
			r.logger.Warn("gap re-summarization failed, will retry next cycle",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			continue
		}

		if !r.store.TryLockConversation(conversationID) {
			continue
		}
		err = r.storage.UpdateSummary(ctx, &memory.Summary{
			ID:         summaryID,
			Text:       text,
			TokenCount: tokens.Estimate(text),
		})
		r.store.UnlockConversation(conversationID)
		if err != nil {
			r.logger.Warn("replacing placeholder summary failed",
				zap.String("summary_id", summaryID),
				zap.Error(err),
			)
			continue
		}

		if err := r.storage.DeleteRecord(ctx, rec.ID); err != nil {
			r.logger.Warn("retiring gap record failed", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}

		r.logger.Info("repaired compaction gap",
			zap.String("conversation_id", conversationID),
			zap.Int("start_seq", startSeq),
			zap.Int("end_seq", endSeq),
		)
	}

	return nil
}

// windowMessagesByDay gathers the owner's messages inside the window,
// grouped by UTC date.
func (r *Runner) windowMessagesByDay(ctx context.Context, ownerID string) (map[string][]*memory.Message, error) {
	conversations, err := r.storage.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	cutoff := time.Now().UTC().Add(-r.cfg.Window)
	byDay := make(map[string][]*memory.Message)

	for _, conv := range conversations {
		msgs, err := r.storage.Messages(ctx, conv.ID, 1)
		if err != nil {
			return nil, fmt.Errorf("loading messages for %s: %w", conv.ID, err)
		}
		for _, m := range msgs {
			if m.CreatedAt.Before(cutoff) {
				continue
			}
			date := m.CreatedAt.UTC().Format("2006-01-02")
			byDay[date] = append(byDay[date], m)
		}
	}

	return byDay, nil
}

// writeJournal generates the owner's journal for one date and indexes it.
// The journal row is replaced wholesale and the derived record id is
// deterministic, so reruns overwrite instead of duplicating.
func (r *Runner) writeJournal(ctx context.Context, ownerID, date string, msgs []*memory.Message) error {
	var transcript strings.Builder
	for _, m := range msgs {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	resp, err := r.provider.Complete(ctx, &llm.ChatRequest{
		Model:  r.cfg.Model,
		System: journalSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: transcript.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("%w: journal generation: %v", memory.ErrTransient, err)
	}

	body := strings.TrimSpace(resp.Message.Content)
	if body == "" {
		return fmt.Errorf("%w: empty journal body", memory.ErrTransient)
	}

	if err := r.storage.UpsertJournal(ctx, &memory.Journal{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Date:    date,
		Body:    body,
	}); err != nil {
		return fmt.Errorf("storing journal: %w", err)
	}

	record := &memory.Record{
		ID:      fmt.Sprintf("journal:%s:%s", ownerID, date),
		Type:    memory.RecordJournal,
		Text:    body,
		OwnerID: ownerID,
		Metadata: map[string]string{
			"date": date,
		},
	}
	if err := r.store.WriteRecord(ctx, record); err != nil {
		return fmt.Errorf("indexing journal: %w", err)
	}

	r.logger.Info("journal written",
		zap.String("owner_id", ownerID),
		zap.String("date", date),
	)

	return nil
}

// observationCategories are the note categories the extraction prompt allows.
// Lines with any other prefix are discarded as model noise.
var observationCategories = map[string]bool{
	"communication": true,
	"interests":     true,
	"preferences":   true,
	"context":       true,
}

// extractObservations asks the model for durable notes about the user and
// stores the ones not already on file. Dedup is by exact category and content,
// so reruns over the same window add nothing.
func (r *Runner) extractObservations(ctx context.Context, ownerID string, byDay map[string][]*memory.Message) error {
	var transcript strings.Builder
	for _, msgs := range byDay {
		for _, m := range msgs {
			transcript.WriteString(string(m.Role))
			transcript.WriteString(": ")
			transcript.WriteString(m.Content)
			transcript.WriteString("\n")
		}
	}
	if transcript.Len() == 0 {
		return nil
	}

	resp, err := r.provider.Complete(ctx, &llm.ChatRequest{
		Model:  r.cfg.Model,
		System: observationSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: transcript.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("%w: observation extraction: %v", memory.ErrTransient, err)
	}

	existing, err := r.storage.Observations(ctx, ownerID, "")
	if err != nil {
		return fmt.Errorf("listing observations: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, o := range existing {
		seen[o.Category+"\x00"+o.Content] = true
	}

	for _, line := range strings.Split(resp.Message.Content, "\n") {
		category, content, ok := strings.Cut(line, ":")
		category = strings.ToLower(strings.TrimSpace(category))
		content = strings.TrimSpace(content)
		if !ok || content == "" || !observationCategories[category] {
			continue
		}
		if seen[category+"\x00"+content] {
			continue
		}
		seen[category+"\x00"+content] = true

		obs := &memory.Observation{
			ID:       uuid.NewString(),
			OwnerID:  ownerID,
			Category: category,
			Content:  content,
		}
		if err := r.storage.AddObservation(ctx, obs); err != nil {
			r.logger.Warn("storing observation failed", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}

		if err := r.store.WriteRecord(ctx, &memory.Record{
			ID:      "observation:" + obs.ID,
			Type:    memory.RecordObservation,
			Text:    content,
			OwnerID: ownerID,
			Metadata: map[string]string{
				"category": category,
			},
		}); err != nil {
			r.logger.Warn("indexing observation failed", zap.String("observation_id", obs.ID), zap.Error(err))
		}
	}

	return nil
}

// groundSelfModel attaches evidence to proposed nodes whose claim appears in
// the owner's recent records. Evidence only accumulates, so reruns are safe.
func (r *Runner) groundSelfModel(ctx context.Context, ownerID string) error {
	nodes, err := r.graph.Nodes(ctx, storage.NodeFilter{
		States: []memory.NodeState{memory.StateProposed},
	})
	if err != nil {
		return fmt.Errorf("loading proposed nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	records, err := r.storage.ListRecords(ctx, storage.RecordFilter{OwnerID: ownerID})
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}

	for _, n := range nodes {
		needle := strings.ToLower(n.Content)
		for _, rec := range records {
			if !strings.Contains(strings.ToLower(rec.Text), needle) {
				continue
			}
			if err := r.graph.AddEvidence(ctx, n.ID, rec.ID); err != nil {
				r.logger.Warn("attaching evidence failed",
					zap.String("node_id", n.ID),
					zap.String("record_id", rec.ID),
					zap.Error(err),
				)
				continue
			}
			r.logger.Debug("grounded self-model node",
				zap.String("node_id", n.ID),
				zap.String("record_id", rec.ID),
			)
		}
	}

	return nil
}
