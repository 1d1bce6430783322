// Package engine assembles the memory subsystem from configuration: the
// structured store, the vector index, the embedding and LLM providers, the
// memory store, the context assembler, the self-model graph, and the
// consolidation machinery.
//
// It is the stable surface other subsystems call: AppendMessage, HotContext,
// QueryRecords and Assemble, with everything else reachable through the
// exported components.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/assembler"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/dotdir"
	"github.com/engramlabs/engram/pkg/embeddings"
	embeddingutils "github.com/engramlabs/engram/pkg/embeddings/utils"
	"github.com/engramlabs/engram/pkg/llm"
	llmutils "github.com/engramlabs/engram/pkg/llm/utils"
	"github.com/engramlabs/engram/pkg/memstore"
	"github.com/engramlabs/engram/pkg/selfmodel"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/storage/sqlite"
	"github.com/engramlabs/engram/pkg/summarizer"
	"github.com/engramlabs/engram/pkg/vector"
	vectorutils "github.com/engramlabs/engram/pkg/vector/utils"
)

// Engine wires the full memory subsystem together.
type Engine struct {
	Config *config.Config

	Storage  storage.Driver
	Vectors  vector.Driver
	Embedder embeddings.Embedder
	Provider llm.Provider

	Store     *memstore.Store
	Assembler *assembler.Assembler
	Graph     *selfmodel.Graph
	Runner    *consolidate.Runner

	logger *zap.Logger
}

// New builds an engine from configuration. Relative storage paths resolve
// inside the .engram directory (configDir overrides the usual resolution).
func New(cfg *config.Config, configDir string, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Memory.HotTokenBudget > cfg.Context.Budget-cfg.Context.RetrievalReserve {
		return nil, fmt.Errorf("hot token budget %d exceeds context budget %d minus retrieval reserve %d",
			cfg.Memory.HotTokenBudget, cfg.Context.Budget, cfg.Context.RetrievalReserve)
	}

	target, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir: %w", err)
	}

	st, err := sqlite.NewSQLiteDriver(resolvePath(target, cfg.Storage.SQLitePath))
	if err != nil {
		return nil, fmt.Errorf("opening structured store: %w", err)
	}

	vec, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		Path:         resolvePath(target, cfg.VectorStore.Path),
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	emb, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		Timeout:      time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		vec.Close()
		st.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	provider, err := llmutils.NewProvider(&llmutils.NewProviderOpts{
		ProviderType: cfg.LLM.Provider,
		TargetURL:    cfg.LLM.Target,
		Model:        cfg.LLM.Model,
		Timeout:      time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		emb.Close()
		vec.Close()
		st.Close()
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}

	sum, err := summarizer.NewSummarizer(provider, summarizer.Config{
		Model: cfg.LLM.Model,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating summarizer: %w", err)
	}

	store, err := memstore.NewStore(st, vec, emb, sum, memstore.Config{
		HotTokenBudget: cfg.Memory.HotTokenBudget,
		SafetyMargin:   cfg.Memory.SafetyMargin,
		MinTail:        cfg.Memory.MinTail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}

	asm, err := assembler.NewAssembler(store, st, assembler.Config{
		ContextBudget:    cfg.Context.Budget,
		RetrievalReserve: cfg.Context.RetrievalReserve,
		TopK:             cfg.Memory.TopK,
		MaxFacts:         cfg.Context.MaxFacts,
		IdentityKernel:   cfg.Context.IdentityKernel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating assembler: %w", err)
	}

	graph, err := selfmodel.NewGraph(st, logger)
	if err != nil {
		return nil, fmt.Errorf("creating self-model graph: %w", err)
	}

	runner, err := consolidate.NewRunner(store, st, graph, sum, provider, consolidate.Config{
		Model:  cfg.LLM.Model,
		Window: time.Duration(cfg.Consolidation.WindowDays) * 24 * time.Hour,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating consolidation runner: %w", err)
	}

	return &Engine{
		Config:    cfg,
		Storage:   st,
		Vectors:   vec,
		Embedder:  emb,
		Provider:  provider,
		Store:     store,
		Assembler: asm,
		Graph:     graph,
		Runner:    runner,
		logger:    logger,
	}, nil
}

func resolvePath(dir, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// NewScheduler creates the periodic consolidation scheduler over all owners
// in the store.
func (e *Engine) NewScheduler() (*consolidate.Scheduler, error) {
	interval, err := time.ParseDuration(e.Config.Consolidation.Interval)
	if err != nil {
		return nil, fmt.Errorf("parsing consolidation interval: %w", err)
	}

	pool, err := consolidate.NewPool(&consolidate.PoolConfig{
		Runner:     e.Runner,
		NumWorkers: e.Config.Consolidation.Workers,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	owners := func(ctx context.Context) ([]string, error) {
		return e.Storage.Owners(ctx)
	}

	return consolidate.NewScheduler(pool, owners, interval, e.logger)
}

// Close releases every component the engine owns.
func (e *Engine) Close() error {
	var errs []error
	if err := e.Provider.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing llm provider: %w", err))
	}
	// Store.Close closes the embedder, vector driver and storage driver.
	if err := e.Store.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
