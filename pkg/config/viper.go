package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/engramlabs/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindPFlag)
//  2. Environment variables (ENGRAM_STORAGE_SQLITE_PATH, ENGRAM_LLM_MODEL, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	defaults := NewDefaultConfig()

	v.SetDefault("storage.sqlite_path", defaults.Storage.SQLitePath)

	v.SetDefault("vector_store.provider", defaults.VectorStore.Provider)
	v.SetDefault("vector_store.path", defaults.VectorStore.Path)

	v.SetDefault("embedding.provider", defaults.Embedding.Provider)
	v.SetDefault("embedding.target", defaults.Embedding.Target)
	v.SetDefault("embedding.model", defaults.Embedding.Model)
	v.SetDefault("embedding.dimensions", defaults.Embedding.Dimensions)
	v.SetDefault("embedding.timeout_seconds", defaults.Embedding.TimeoutSeconds)

	v.SetDefault("llm.provider", defaults.LLM.Provider)
	v.SetDefault("llm.target", defaults.LLM.Target)
	v.SetDefault("llm.model", defaults.LLM.Model)
	v.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)

	v.SetDefault("memory.hot_token_budget", defaults.Memory.HotTokenBudget)
	v.SetDefault("memory.safety_margin", defaults.Memory.SafetyMargin)
	v.SetDefault("memory.min_tail", defaults.Memory.MinTail)
	v.SetDefault("memory.top_k", defaults.Memory.TopK)

	v.SetDefault("context.budget", defaults.Context.Budget)
	v.SetDefault("context.retrieval_reserve", defaults.Context.RetrievalReserve)
	v.SetDefault("context.max_facts", defaults.Context.MaxFacts)
	v.SetDefault("context.identity_kernel", defaults.Context.IdentityKernel)

	v.SetDefault("consolidation.interval", defaults.Consolidation.Interval)
	v.SetDefault("consolidation.window_days", defaults.Consolidation.WindowDays)
	v.SetDefault("consolidation.workers", defaults.Consolidation.Workers)
}

// FromViper materializes a Config from a viper instance.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		VectorStore: VectorStoreConfig{
			Provider: v.GetString("vector_store.provider"),
			Path:     v.GetString("vector_store.path"),
		},
		Embedding: EmbeddingConfig{
			Provider:       v.GetString("embedding.provider"),
			Target:         v.GetString("embedding.target"),
			Model:          v.GetString("embedding.model"),
			Dimensions:     v.GetUint("embedding.dimensions"),
			TimeoutSeconds: v.GetUint("embedding.timeout_seconds"),
		},
		LLM: LLMConfig{
			Provider:       v.GetString("llm.provider"),
			Target:         v.GetString("llm.target"),
			Model:          v.GetString("llm.model"),
			TimeoutSeconds: v.GetUint("llm.timeout_seconds"),
		},
		Memory: MemoryConfig{
			HotTokenBudget: v.GetInt("memory.hot_token_budget"),
			SafetyMargin:   v.GetInt("memory.safety_margin"),
			MinTail:        v.GetInt("memory.min_tail"),
			TopK:           v.GetInt("memory.top_k"),
		},
		Context: ContextConfig{
			Budget:           v.GetInt("context.budget"),
			RetrievalReserve: v.GetInt("context.retrieval_reserve"),
			MaxFacts:         v.GetInt("context.max_facts"),
			IdentityKernel:   v.GetString("context.identity_kernel"),
		},
		Consolidation: ConsolidationConfig{
			Interval:   v.GetString("consolidation.interval"),
			WindowDays: v.GetInt("consolidation.window_days"),
			Workers:    v.GetUint("consolidation.workers"),
		},
	}

	applyDefaults(cfg)

	return cfg
}
