package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version       int                 `toml:"version"`
	Storage       StorageConfig       `toml:"storage"`
	VectorStore   VectorStoreConfig   `toml:"vector_store"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	LLM           LLMConfig           `toml:"llm"`
	Memory        MemoryConfig        `toml:"memory"`
	Context       ContextConfig       `toml:"context"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
}

// StorageConfig holds structured-store settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// VectorStoreConfig holds derived vector index settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Path     string `toml:"path,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`

	// TimeoutSeconds bounds a single embedding call. Embedding calls sit on
	// the retrieval path, so the timeout is short.
	TimeoutSeconds uint `toml:"timeout_seconds,omitempty"`
}

// LLMConfig holds completion provider settings used by the summarizer and
// consolidation jobs.
type LLMConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`

	// TimeoutSeconds bounds a single completion call. Summarization calls
	// are off the turn hot path and may take tens of seconds.
	TimeoutSeconds uint `toml:"timeout_seconds,omitempty"`
}

// MemoryConfig holds hot-context and compaction settings.
type MemoryConfig struct {
	// HotTokenBudget is the maximum token count HotContext may return.
	HotTokenBudget int `toml:"hot_token_budget,omitempty"`

	// SafetyMargin is subtracted from the budget when choosing a compaction
	// span so a single large turn does not immediately re-trigger compaction.
	SafetyMargin int `toml:"safety_margin,omitempty"`

	// MinTail is the number of most-recent messages that are never compacted.
	MinTail int `toml:"min_tail,omitempty"`

	// TopK is the default result count for semantic record queries.
	TopK int `toml:"top_k,omitempty"`
}

// ContextConfig holds context assembly settings.
type ContextConfig struct {
	// Budget is the total token budget for an assembled context.
	Budget int `toml:"budget,omitempty"`

	// RetrievalReserve is the token allowance held back from the hot tier
	// for retrieved records and self-model facts.
	RetrievalReserve int `toml:"retrieval_reserve,omitempty"`

	// MaxFacts caps the number of self-model facts injected per turn.
	MaxFacts int `toml:"max_facts,omitempty"`

	// IdentityKernel is the fixed system preamble included on every turn.
	IdentityKernel string `toml:"identity_kernel,omitempty"`
}

// ConsolidationConfig holds background job settings.
type ConsolidationConfig struct {
	// Interval is how often the scheduler runs, as a Go duration string.
	Interval string `toml:"interval,omitempty"`

	// WindowDays is the size of the consolidation window.
	WindowDays int `toml:"window_days,omitempty"`

	// Workers is the size of the consolidation worker pool.
	Workers uint `toml:"workers,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.path": {
		get: func(c *Config) string { return c.VectorStore.Path },
		set: func(c *Config, v string) error { c.VectorStore.Path = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"llm.provider": {
		get: func(c *Config) string { return c.LLM.Provider },
		set: func(c *Config, v string) error { c.LLM.Provider = v; return nil },
	},
	"llm.target": {
		get: func(c *Config) string { return c.LLM.Target },
		set: func(c *Config, v string) error { c.LLM.Target = v; return nil },
	},
	"llm.model": {
		get: func(c *Config) string { return c.LLM.Model },
		set: func(c *Config, v string) error { c.LLM.Model = v; return nil },
	},
	"memory.hot_token_budget": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.HotTokenBudget) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.hot_token_budget: %w", err)
			}
			c.Memory.HotTokenBudget = n
			return nil
		},
	},
	"memory.safety_margin": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.SafetyMargin) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.safety_margin: %w", err)
			}
			c.Memory.SafetyMargin = n
			return nil
		},
	},
	"context.budget": {
		get: func(c *Config) string { return strconv.Itoa(c.Context.Budget) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for context.budget: %w", err)
			}
			c.Context.Budget = n
			return nil
		},
	},
	"consolidation.interval": {
		get: func(c *Config) string { return c.Consolidation.Interval },
		set: func(c *Config, v string) error { c.Consolidation.Interval = v; return nil },
	},
	"consolidation.window_days": {
		get: func(c *Config) string { return strconv.Itoa(c.Consolidation.WindowDays) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for consolidation.window_days: %w", err)
			}
			c.Consolidation.WindowDays = n
			return nil
		},
	},
}
