package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/engramlabs/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	override   string
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{override: override}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of supported configuration keys.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

// Get returns the string value of a dotted config key.
func Get(cfg *Config, key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	return info.get(cfg), nil
}

// Set assigns a dotted config key from its string representation.
func Set(cfg *Config, key, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	return info.set(cfg, value)
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// GetConfigValue loads the config and returns the value of a dotted key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}
	return Get(cfg, key)
}

// SetConfigValue loads the on-disk config, assigns a dotted key, and saves it
// back. Environment overrides are deliberately excluded here so they never
// get baked into the file.
func (c *Configer) SetConfigValue(key, value string) error {
	cfg, err := c.loadFileConfig()
	if err != nil {
		return err
	}
	if err := Set(cfg, key, value); err != nil {
		return err
	}
	return c.SaveConfig(cfg)
}

// LoadConfig returns the effective configuration: defaults, overridden by
// config.toml in the target .engram/ directory, overridden by ENGRAM_*
// environment variables. Callers always receive a fully-populated Config.
func (c *Configer) LoadConfig() (*Config, error) {
	v, err := InitViper(c.override)
	if err != nil {
		return nil, err
	}
	return FromViper(v), nil
}

// loadFileConfig reads config.toml without the environment overlay. If the
// file does not exist, returns NewDefaultConfig().
func (c *Configer) loadFileConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

// ParseConfigTOML decodes raw TOML bytes into a Config.
func ParseConfigTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = defaults.VectorStore.Provider
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = defaults.VectorStore.Path
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = defaults.Embedding.TimeoutSeconds
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaults.LLM.Provider
	}
	if cfg.LLM.Target == "" {
		cfg.LLM.Target = defaults.LLM.Target
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaults.LLM.Model
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = defaults.LLM.TimeoutSeconds
	}

	if cfg.Memory.HotTokenBudget == 0 {
		cfg.Memory.HotTokenBudget = defaults.Memory.HotTokenBudget
	}
	if cfg.Memory.SafetyMargin == 0 {
		cfg.Memory.SafetyMargin = defaults.Memory.SafetyMargin
	}
	if cfg.Memory.MinTail == 0 {
		cfg.Memory.MinTail = defaults.Memory.MinTail
	}
	if cfg.Memory.TopK == 0 {
		cfg.Memory.TopK = defaults.Memory.TopK
	}

	if cfg.Context.Budget == 0 {
		cfg.Context.Budget = defaults.Context.Budget
	}
	if cfg.Context.RetrievalReserve == 0 {
		cfg.Context.RetrievalReserve = defaults.Context.RetrievalReserve
	}
	if cfg.Context.MaxFacts == 0 {
		cfg.Context.MaxFacts = defaults.Context.MaxFacts
	}
	if cfg.Context.IdentityKernel == "" {
		cfg.Context.IdentityKernel = defaults.Context.IdentityKernel
	}

	if cfg.Consolidation.Interval == "" {
		cfg.Consolidation.Interval = defaults.Consolidation.Interval
	}
	if cfg.Consolidation.WindowDays == 0 {
		cfg.Consolidation.WindowDays = defaults.Consolidation.WindowDays
	}
	if cfg.Consolidation.Workers == 0 {
		cfg.Consolidation.Workers = defaults.Consolidation.Workers
	}
}

// SaveConfig persists the configuration to config.toml in the target .engram/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
