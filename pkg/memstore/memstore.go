// Package memstore implements the memory store: the hot conversation context
// with token-budget compaction, and the owner-scoped record store with
// semantic retrieval.
//
// The structured store is authoritative. The vector index is derived and
// repairable: a dangling index entry is deleted on sight, and retrieval
// degrades to keyword search when embedding is unavailable.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/summarizer"
	"github.com/engramlabs/engram/pkg/tokens"
	"github.com/engramlabs/engram/pkg/vector"
)

// GapMetadataKey marks records standing in for a failed compaction, so the
// consolidation job can find and repair them.
const (
	GapMetadataKey   = "kind"
	GapMetadataValue = "compaction_gap"
)

// Config bounds the hot context.
type Config struct {
	// HotTokenBudget is the maximum token count of the hot context.
	HotTokenBudget int

	// SafetyMargin is subtracted from the budget when deciding how much
	// to compact, so a single appended turn does not immediately force
	// another compaction.
	SafetyMargin int

	// MinTail is the number of newest messages never compacted.
	MinTail int
}

// HotContext is the assembled working set for a conversation: summaries of
// compacted history in range order, then the verbatim tail.
type HotContext struct {
	Summaries  []*memory.Summary
	Messages   []*memory.Message
	TokenCount int
}

// RetrievedRecord is a record with its retrieval score.
type RetrievedRecord struct {
	*memory.Record
	Score float32
}

// Store coordinates the structured store, the vector index, the embedder,
// and the summarizer.
type Store struct {
	storage    storage.Driver
	vectors    vector.Driver
	embedder   embeddings.Embedder
	summarizer *summarizer.Summarizer
	cfg        Config
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a memory store over the given drivers.
func NewStore(
	st storage.Driver,
	vec vector.Driver,
	emb embeddings.Embedder,
	sum *summarizer.Summarizer,
	cfg Config,
	logger *zap.Logger,
) (*Store, error) {
	if st == nil {
		return nil, fmt.Errorf("storage driver is required")
	}
	if vec == nil {
		return nil, fmt.Errorf("vector driver is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if sum == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HotTokenBudget <= 0 {
		return nil, fmt.Errorf("hot token budget must be positive, got %d", cfg.HotTokenBudget)
	}
	if cfg.MinTail < 1 {
		cfg.MinTail = 1
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}

	return &Store{
		storage:    st,
		vectors:    vec,
		embedder:   emb,
		summarizer: sum,
		cfg:        cfg,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}

	return l
}

// TryLockConversation attempts to take the conversation's maintenance lock
// without blocking. Callers that get false must skip, not wait.
func (s *Store) TryLockConversation(conversationID string) bool {
	return s.conversationLock(conversationID).TryLock()
}

// UnlockConversation releases the maintenance lock taken by
// TryLockConversation.
func (s *Store) UnlockConversation(conversationID string) {
	s.conversationLock(conversationID).Unlock()
}

// CreateConversation starts a new conversation for an owner.
func (s *Store) CreateConversation(ctx context.Context, ownerID string) (*memory.Conversation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", memory.ErrInvalidInput)
	}

	c := &memory.Conversation{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
	}
	if err := s.storage.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	return c, nil
}

// AppendMessage appends a turn to a conversation, assigning its sequence
// number and token count. If the append pushes the hot context over budget,
// compaction runs before returning; a compaction failure does not fail the
// append.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role memory.Role, content string) (*memory.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", memory.ErrInvalidInput)
	}

	m := &memory.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokenCount:     tokens.Estimate(content),
	}
	if err := s.storage.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	hot, err := s.HotContext(ctx, conversationID)
	if err != nil {
		s.logger.Warn("post-append budget check failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return m, nil
	}

	if hot.TokenCount > s.cfg.HotTokenBudget {
		if err := s.Compact(ctx, conversationID); err != nil {
			s.logger.Warn("compaction after append failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}

	return m, nil
}

// HotContext assembles the current working set: all summaries in range order
// followed by the messages newer than the last compacted sequence.
func (s *Store) HotContext(ctx context.Context, conversationID string) (*HotContext, error) {
	summaries, err := s.storage.Summaries(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading summaries: %w", err)
	}

	fromSeq := 1
	for i, sum := range summaries {
		if i > 0 && sum.StartSeq <= summaries[i-1].EndSeq {
			return nil, fmt.Errorf("%w: summaries %s and %s overlap",
				memory.ErrInconsistent, summaries[i-1].ID, sum.ID)
		}
		if sum.EndSeq >= fromSeq {
			fromSeq = sum.EndSeq + 1
		}
	}

	msgs, err := s.storage.Messages(ctx, conversationID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	total := 0
	for _, sum := range summaries {
		total += sum.TokenCount
	}
	for _, m := range msgs {
		total += m.TokenCount
	}

	return &HotContext{
		Summaries:  summaries,
		Messages:   msgs,
		TokenCount: total,
	}, nil
}

// compactionUnit is one foldable element of the hot context: either an
// existing summary or a raw message. Units sit in sequence order, summaries
// first, matching the partition invariant.
type compactionUnit struct {
	summary *memory.Summary
	message *memory.Message
}

func (u compactionUnit) startSeq() int {
	if u.summary != nil {
		return u.summary.StartSeq
	}
	return u.message.Seq
}

func (u compactionUnit) endSeq() int {
	if u.summary != nil {
		return u.summary.EndSeq
	}
	return u.message.Seq
}

func (u compactionUnit) tokens() int {
	if u.summary != nil {
		return u.summary.TokenCount
	}
	return u.message.TokenCount
}

// asMessage renders the unit as summarizer input. Summaries come back as
// system turns so the model treats them as prior context, not dialogue.
func (u compactionUnit) asMessage() *memory.Message {
	if u.message != nil {
		return u.message
	}
	return &memory.Message{
		ConversationID: u.summary.ConversationID,
		Seq:            u.summary.StartSeq,
		Role:           memory.RoleSystem,
		Content:        u.summary.Text,
	}
}

func spanInput(span []compactionUnit) []*memory.Message {
	msgs := make([]*memory.Message, len(span))
	for i, u := range span {
		msgs[i] = u.asMessage()
	}
	return msgs
}

// Compact folds the oldest span of a conversation into a single summary. The
// span may contain earlier summaries, which are re-summarized together with
// the oldest raw messages and replaced, so the summary mass itself stays
// bounded on long conversations. Compact is a no-op when the hot context is
// within budget, making it safe to call repeatedly. The conversation lock is
// held only while reading and writing state, never across the summarization
// call.
func (s *Store) Compact(ctx context.Context, conversationID string) error {
	lock := s.conversationLock(conversationID)
	lock.Lock()

	hot, err := s.HotContext(ctx, conversationID)
	if err != nil {
		lock.Unlock()
		return err
	}

	if hot.TokenCount <= s.cfg.HotTokenBudget {
		lock.Unlock()
		return nil
	}

	span := s.compactionSpan(hot)
	lock.Unlock()

	if len(span) == 0 {
		return nil
	}

	text, err := s.summarizeWithRetry(ctx, spanInput(span))
	if err != nil {
		// Halve the span toward its oldest end and try once more with
		// a smaller input before giving up on summarization entirely.
		if len(span) > 1 {
			span = span[:(len(span)+1)/2]
			text, err = s.summarizeWithRetry(ctx, spanInput(span))
		}
		if err != nil {
			return s.truncateSpan(ctx, conversationID, span, lock)
		}
	}

	spanTokens := 0
	for _, u := range span {
		spanTokens += u.tokens()
	}
	if tokens.Estimate(text) >= spanTokens {
		// Replacing the span with this summary would not shrink the hot
		// context. A wider span next time gives the summary more to absorb.
		s.logger.Debug("summary no smaller than its span, skipping",
			zap.String("conversation_id", conversationID),
			zap.Int("start_seq", span[0].startSeq()),
			zap.Int("end_seq", span[len(span)-1].endSeq()),
			zap.Int("span_tokens", spanTokens),
		)
		return nil
	}

	summary := &memory.Summary{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		StartSeq:       span[0].startSeq(),
		EndSeq:         span[len(span)-1].endSeq(),
		Text:           text,
		TokenCount:     tokens.Estimate(text),
	}

	lock.Lock()
	defer lock.Unlock()

	ok, err := s.replaceSpanSummaries(ctx, conversationID, span, summary)
	if err != nil {
		return err
	}
	if !ok {
		// Another compaction claimed part of the range while we summarized.
		s.logger.Debug("compaction span already covered",
			zap.String("conversation_id", conversationID),
			zap.Int("start_seq", summary.StartSeq),
			zap.Int("end_seq", summary.EndSeq),
		)
		return nil
	}

	if err := s.storage.PutSummary(ctx, summary); err != nil {
		if errors.Is(err, memory.ErrConflict) {
			s.logger.Debug("compaction span already covered",
				zap.String("conversation_id", conversationID),
				zap.Int("start_seq", summary.StartSeq),
				zap.Int("end_seq", summary.EndSeq),
			)
			return nil
		}
		return fmt.Errorf("storing summary: %w", err)
	}

	s.logger.Info("compacted conversation span",
		zap.String("conversation_id", conversationID),
		zap.Int("start_seq", summary.StartSeq),
		zap.Int("end_seq", summary.EndSeq),
		zap.Int("summary_tokens", summary.TokenCount),
	)

	return nil
}

// replaceSpanSummaries deletes the span's summaries so the merged replacement
// can take their range. Must be called with the conversation lock held. It
// returns false without deleting anything when the stored summaries no longer
// match the span, which means another compaction ran while the lock was
// released for summarization.
func (s *Store) replaceSpanSummaries(ctx context.Context, conversationID string, span []compactionUnit, merged *memory.Summary) (bool, error) {
	spanIDs := make(map[string]bool)
	for _, u := range span {
		if u.summary != nil {
			spanIDs[u.summary.ID] = true
		}
	}

	current, err := s.storage.Summaries(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("reloading summaries: %w", err)
	}
	seen := 0
	for _, existing := range current {
		if existing.EndSeq < merged.StartSeq || existing.StartSeq > merged.EndSeq {
			continue
		}
		if !spanIDs[existing.ID] {
			return false, nil
		}
		seen++
	}
	if seen != len(spanIDs) {
		return false, nil
	}

	for _, u := range span {
		if u.summary == nil {
			continue
		}
		if err := s.storage.DeleteSummary(ctx, u.summary.ID); err != nil {
			return false, fmt.Errorf("replacing summary %s: %w", u.summary.ID, err)
		}
	}

	return true, nil
}

// compactionSpan selects the oldest prefix of the hot context, existing
// summaries included, whose replacement by one summary brings the total under
// budget minus the safety margin. The MinTail newest messages are never
// included, and a single unit is never selected on its own since replacing
// one summary with another cannot reliably shrink anything.
func (s *Store) compactionSpan(hot *HotContext) []compactionUnit {
	var candidates []compactionUnit
	for _, sum := range hot.Summaries {
		candidates = append(candidates, compactionUnit{summary: sum})
	}
	if tail := len(hot.Messages) - s.cfg.MinTail; tail > 0 {
		for _, m := range hot.Messages[:tail] {
			candidates = append(candidates, compactionUnit{message: m})
		}
	}
	if len(candidates) < 2 {
		return nil
	}

	target := s.cfg.HotTokenBudget - s.cfg.SafetyMargin

	remaining := hot.TokenCount
	for i, u := range candidates {
		remaining -= u.tokens()
		if remaining <= target && i > 0 {
			return candidates[:i+1]
		}
	}

	return candidates
}

func (s *Store) summarizeWithRetry(ctx context.Context, span []*memory.Message) (string, error) {
	text, err := s.summarizer.Summarize(ctx, span)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, memory.ErrTransient) {
		return "", err
	}

	return s.summarizer.Summarize(ctx, span)
}

// truncateSpan is the last-resort fallback when summarization keeps failing:
// the span's raw messages are covered by a placeholder summary so the budget
// invariant holds, and a gap record is written so consolidation can
// regenerate the real summary later. Raw messages are never deleted, and
// existing summaries in the span are left in place since a placeholder
// cannot stand in for them.
func (s *Store) truncateSpan(ctx context.Context, conversationID string, span []compactionUnit, lock *sync.Mutex) error {
	var msgs []*memory.Message
	for _, u := range span {
		if u.message != nil {
			msgs = append(msgs, u.message)
		}
	}
	if len(msgs) == 0 {
		return fmt.Errorf("summarizing span %d-%d failed with no raw messages to truncate",
			span[0].startSeq(), span[len(span)-1].endSeq())
	}

	startSeq := msgs[0].Seq
	endSeq := msgs[len(msgs)-1].Seq

	conv, err := s.storage.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation for gap record: %w", err)
	}

	placeholder := &memory.Summary{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		StartSeq:       startSeq,
		EndSeq:         endSeq,
		Text:           fmt.Sprintf("[summary unavailable for turns %d-%d]", startSeq, endSeq),
	}
	placeholder.TokenCount = tokens.Estimate(placeholder.Text)

	lock.Lock()
	defer lock.Unlock()

	if err := s.storage.PutSummary(ctx, placeholder); err != nil {
		if errors.Is(err, memory.ErrConflict) {
			return nil
		}
		return fmt.Errorf("storing placeholder summary: %w", err)
	}

	gap := &memory.Record{
		ID:      uuid.NewString(),
		Type:    memory.RecordRawChunk,
		Text:    fmt.Sprintf("compaction gap in conversation %s, turns %d-%d", conversationID, startSeq, endSeq),
		OwnerID: conv.OwnerID,
		Metadata: map[string]string{
			GapMetadataKey:    GapMetadataValue,
			"conversation_id": conversationID,
			"summary_id":      placeholder.ID,
			"start_seq":       fmt.Sprintf("%d", startSeq),
			"end_seq":         fmt.Sprintf("%d", endSeq),
		},
	}
	if err := s.storage.PutRecord(ctx, gap); err != nil {
		return fmt.Errorf("storing gap record: %w", err)
	}

	s.logger.Warn("compaction degraded to truncation",
		zap.String("conversation_id", conversationID),
		zap.Int("start_seq", startSeq),
		zap.Int("end_seq", endSeq),
	)

	return nil
}

// WriteRecord stores a record and indexes its embedding. The structured
// write happens first; if indexing fails the record is rolled back so a
// stored record is always queryable.
func (s *Store) WriteRecord(ctx context.Context, r *memory.Record) error {
	if r.OwnerID == "" {
		return fmt.Errorf("%w: record owner id is required", memory.ErrInvalidInput)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: record text is required", memory.ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	embedding, err := s.embedder.Embed(ctx, r.Text)
	if err != nil {
		return fmt.Errorf("%w: embedding record: %v", memory.ErrTransient, err)
	}

	if err := s.storage.PutRecord(ctx, r); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}

	doc := vector.Document{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Type:      string(r.Type),
		CreatedAt: r.CreatedAt,
		Embedding: embedding,
	}
	if err := s.vectors.Add(ctx, []vector.Document{doc}); err != nil {
		if delErr := s.storage.DeleteRecord(ctx, r.ID); delErr != nil {
			s.logger.Error("rollback after index failure failed",
				zap.String("record_id", r.ID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("%w: indexing record: %v", memory.ErrTransient, err)
	}

	return nil
}

// QueryRecords retrieves the owner's records most relevant to the query
// text. Embedding failures are retried once, then retrieval degrades to
// keyword search over the structured store. Index entries whose record no
// longer exists are removed and skipped.
func (s *Store) QueryRecords(ctx context.Context, ownerID, query string, topK int, types []memory.RecordType) ([]RetrievedRecord, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", memory.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		embedding, err = s.embedder.Embed(ctx, query)
	}
	if err != nil {
		s.logger.Warn("embedding unavailable, falling back to keyword search",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		return s.keywordFallback(ctx, ownerID, query, topK, types)
	}

	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}

	results, err := s.vectors.Query(ctx, embedding, topK, vector.Filter{
		OwnerID: ownerID,
		Types:   typeStrs,
	})
	if err != nil {
		s.logger.Warn("vector query failed, falling back to keyword search",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		return s.keywordFallback(ctx, ownerID, query, topK, types)
	}

	out := make([]RetrievedRecord, 0, len(results))
	var dangling []string
	for _, res := range results {
		r, err := s.storage.GetRecord(ctx, res.ID)
		if err != nil {
			var notFound storage.ErrNotFound
			if errors.As(err, &notFound) {
				dangling = append(dangling, res.ID)
				continue
			}
			return nil, fmt.Errorf("loading record %s: %w", res.ID, err)
		}
		out = append(out, RetrievedRecord{Record: r, Score: res.Score})
	}

	if len(dangling) > 0 {
		if err := s.vectors.Delete(ctx, dangling); err != nil {
			s.logger.Warn("removing dangling index entries failed",
				zap.Strings("ids", dangling),
				zap.Error(err),
			)
		} else {
			s.logger.Info("removed dangling index entries", zap.Strings("ids", dangling))
		}
	}

	// Equal scores break toward the newer record.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

func (s *Store) keywordFallback(ctx context.Context, ownerID, query string, topK int, types []memory.RecordType) ([]RetrievedRecord, error) {
	records, err := s.storage.ListRecords(ctx, storage.RecordFilter{
		OwnerID: ownerID,
		Types:   types,
		Keyword: query,
		Limit:   topK,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	out := make([]RetrievedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, RetrievedRecord{Record: r})
	}

	return out, nil
}

// Close releases the store's drivers.
func (s *Store) Close() error {
	var errs []error
	if err := s.embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing embedder: %w", err))
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing vector driver: %w", err))
	}
	if err := s.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage driver: %w", err))
	}

	return errors.Join(errs...)
}
