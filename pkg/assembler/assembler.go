// Package assembler builds the context for the next model call from four
// tiers: the identity kernel, the hot conversation context, semantically
// retrieved records, and self-model facts.
//
// The assembler is a pure read over the memory store; it never writes.
// When budget runs out the retrieved and fact tiers are trimmed, never the
// hot conversation tier.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/memstore"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/tokens"
)

// Config bounds the assembled context.
type Config struct {
	// ContextBudget is the total token budget for the assembled context.
	ContextBudget int

	// RetrievalReserve is the share of ContextBudget held for the retrieved
	// tier. The hot tier's own budget must stay at or below ContextBudget
	// minus this reserve; since the hot tier is never trimmed here, an
	// overrun is reported, not repaired.
	RetrievalReserve int

	// TopK is the number of records requested from retrieval.
	TopK int

	// MaxFacts caps the self-model facts injected per turn. Zero means no
	// cap beyond the token budget.
	MaxFacts int

	// IdentityKernel is a fixed preamble prepended to the identity tier.
	IdentityKernel string
}

// Fact is a self-model statement selected for injection.
type Fact struct {
	NodeID     string
	Type       memory.NodeType
	Content    string
	Confidence float64
}

// Context is the assembled working set for one model call, in tier order.
type Context struct {
	Identity   string
	Summaries  []*memory.Summary
	Messages   []*memory.Message
	Retrieved  []memstore.RetrievedRecord
	Facts      []Fact
	TokenCount int
}

// Assembler selects and budgets context for the next turn.
type Assembler struct {
	store   *memstore.Store
	storage storage.Driver
	cfg     Config
	logger  *zap.Logger
}

// NewAssembler creates an assembler over the given store.
func NewAssembler(store *memstore.Store, st storage.Driver, cfg Config, logger *zap.Logger) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if st == nil {
		return nil, fmt.Errorf("storage driver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContextBudget <= 0 {
		return nil, fmt.Errorf("context budget must be positive, got %d", cfg.ContextBudget)
	}
	if cfg.RetrievalReserve < 0 || cfg.RetrievalReserve >= cfg.ContextBudget {
		return nil, fmt.Errorf("retrieval reserve must be in [0, context budget), got %d", cfg.RetrievalReserve)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}

	return &Assembler{
		store:   store,
		storage: st,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Assemble builds the context for a new user turn. Retrieval and self-model
// failures degrade to a hot-only context instead of failing the turn.
func (a *Assembler) Assemble(ctx context.Context, conversationID, ownerID, userTurn string) (*Context, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", memory.ErrInvalidInput)
	}

	out := &Context{}

	out.Identity = a.identityKernel(ctx, ownerID)
	identityTokens := tokens.Estimate(out.Identity)

	hot, err := a.store.HotContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading hot context: %w", err)
	}
	out.Summaries = hot.Summaries
	out.Messages = hot.Messages

	available := a.cfg.ContextBudget - identityTokens - hot.TokenCount
	if available < 0 {
		available = 0
	}
	if available < a.cfg.RetrievalReserve {
		// The hot tier is never trimmed, so when it grows past its share
		// the shortfall lands on the retrieved tier's reserved room.
		a.logger.Warn("hot context overran the retrieval reserve",
			zap.String("conversation_id", conversationID),
			zap.Int("available", available),
			zap.Int("retrieval_reserve", a.cfg.RetrievalReserve),
		)
	}

	// Retrieved records have priority over facts in the leftover budget:
	// facts are trimmed first, retrieval second, the hot tier never.
	retrieved := a.retrieve(ctx, ownerID, userTurn)
	retrievedTokens := 0
	for _, r := range retrieved {
		cost := tokens.Estimate(r.Text)
		if retrievedTokens+cost > available {
			break
		}
		out.Retrieved = append(out.Retrieved, r)
		retrievedTokens += cost
	}

	factBudget := available - retrievedTokens
	facts := a.selfModelFacts(ctx)
	factTokens := 0
	for _, f := range facts {
		if a.cfg.MaxFacts > 0 && len(out.Facts) >= a.cfg.MaxFacts {
			break
		}
		cost := tokens.Estimate(f.Content)
		if factTokens+cost > factBudget {
			break
		}
		out.Facts = append(out.Facts, f)
		factTokens += cost
	}

	out.TokenCount = identityTokens + hot.TokenCount + retrievedTokens + factTokens

	a.logger.Debug("assembled context",
		zap.String("conversation_id", conversationID),
		zap.Int("tokens", out.TokenCount),
		zap.Int("retrieved", len(out.Retrieved)),
		zap.Int("facts", len(out.Facts)),
	)

	return out, nil
}

// identityKernel builds the small fixed tier from the owner profile and the
// grounded identity core. Failures leave the kernel empty.
func (a *Assembler) identityKernel(ctx context.Context, ownerID string) string {
	var parts []string
	if a.cfg.IdentityKernel != "" {
		parts = append(parts, a.cfg.IdentityKernel)
	}

	profile, err := a.storage.Profile(ctx, ownerID)
	if err == nil {
		if profile.Background != "" {
			parts = append(parts, "User background: "+profile.Background)
		}
		if profile.CommunicationStyle != "" {
			parts = append(parts, "Communication style: "+profile.CommunicationStyle)
		}
	}

	nodes, err := a.storage.Nodes(ctx, storage.NodeFilter{
		Types:  []memory.NodeType{memory.NodeIdentityCore},
		States: []memory.NodeState{memory.StateGrounded},
	})
	if err == nil {
		for _, n := range nodes {
			parts = append(parts, n.Content)
		}
	}

	return strings.Join(parts, "\n")
}

func (a *Assembler) retrieve(ctx context.Context, ownerID, userTurn string) []memstore.RetrievedRecord {
	if userTurn == "" {
		return nil
	}

	results, err := a.store.QueryRecords(ctx, ownerID, userTurn, a.cfg.TopK, []memory.RecordType{
		memory.RecordSummary,
		memory.RecordJournal,
		memory.RecordObservation,
	})
	if err != nil {
		a.logger.Warn("retrieval failed, assembling hot-only context",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		return nil
	}

	// Equal scores break toward newer records; the store already orders
	// this way, a stable re-sort keeps the guarantee local.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	return results
}

// selfModelFacts returns grounded non-core nodes, highest confidence first.
func (a *Assembler) selfModelFacts(ctx context.Context) []Fact {
	nodes, err := a.storage.Nodes(ctx, storage.NodeFilter{
		Types: []memory.NodeType{
			memory.NodeCapability,
			memory.NodeLimitation,
			memory.NodePreference,
			memory.NodeRelationship,
		},
		States: []memory.NodeState{memory.StateGrounded},
	})
	if err != nil {
		a.logger.Warn("self-model read failed, omitting fact tier", zap.Error(err))
		return nil
	}

	facts := make([]Fact, 0, len(nodes))
	for _, n := range nodes {
		facts = append(facts, Fact{
			NodeID:     n.ID,
			Type:       n.Type,
			Content:    n.Content,
			Confidence: n.Confidence,
		})
	}

	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].Confidence > facts[j].Confidence
	})

	return facts
}

// Render flattens the context into a prompt blob, tiers in order.
func (c *Context) Render() string {
	var b strings.Builder

	if c.Identity != "" {
		b.WriteString(c.Identity)
		b.WriteString("\n\n")
	}

	for _, f := range c.Facts {
		b.WriteString(fmt.Sprintf("[%s] %s\n", f.Type, f.Content))
	}
	if len(c.Facts) > 0 {
		b.WriteString("\n")
	}

	for _, r := range c.Retrieved {
		b.WriteString(fmt.Sprintf("[memory:%s] %s\n", r.Type, r.Text))
	}
	if len(c.Retrieved) > 0 {
		b.WriteString("\n")
	}

	for _, s := range c.Summaries {
		b.WriteString(fmt.Sprintf("[earlier] %s\n", s.Text))
	}
	for _, m := range c.Messages {
		b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}

	return b.String()
}
