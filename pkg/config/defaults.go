package config

const (
	defaultSQLitePath = "engram.db"

	defaultVectorProvider = "sqlite"
	defaultVectorPath     = "vectors.db"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768
	defaultEmbeddingTimeout    = 3

	defaultLLMProvider = "ollama"
	defaultLLMTarget   = "http://localhost:11434"
	defaultLLMModel    = "llama3.2"
	defaultLLMTimeout  = 45

	defaultHotTokenBudget = 4096
	defaultSafetyMargin   = 256
	defaultMinTail        = 2
	defaultTopK           = 5

	defaultContextBudget    = 8192
	defaultRetrievalReserve = 1024
	defaultMaxFacts         = 8
	defaultIdentityKernel   = "You are a continuous agent. Your memory spans sessions."

	defaultConsolidationInterval = "1h"
	defaultWindowDays            = 7
	defaultWorkers               = 2
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			SQLitePath: defaultSQLitePath,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
			Path:     defaultVectorPath,
		},
		Embedding: EmbeddingConfig{
			Provider:       defaultEmbeddingProvider,
			Target:         defaultEmbeddingTarget,
			Model:          defaultEmbeddingModel,
			Dimensions:     defaultEmbeddingDimensions,
			TimeoutSeconds: defaultEmbeddingTimeout,
		},
		LLM: LLMConfig{
			Provider:       defaultLLMProvider,
			Target:         defaultLLMTarget,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Memory: MemoryConfig{
			HotTokenBudget: defaultHotTokenBudget,
			SafetyMargin:   defaultSafetyMargin,
			MinTail:        defaultMinTail,
			TopK:           defaultTopK,
		},
		Context: ContextConfig{
			Budget:           defaultContextBudget,
			RetrievalReserve: defaultRetrievalReserve,
			MaxFacts:         defaultMaxFacts,
			IdentityKernel:   defaultIdentityKernel,
		},
		Consolidation: ConsolidationConfig{
			Interval:   defaultConsolidationInterval,
			WindowDays: defaultWindowDays,
			Workers:    defaultWorkers,
		},
	}
}
