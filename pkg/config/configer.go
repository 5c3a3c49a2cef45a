package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const configFile = "config.toml"

// Configer reads and writes config.toml in a config directory. It backs the
// `skillmesh config` subcommands; the server itself loads through viper so
// environment overrides apply.
type Configer struct {
	targetPath string
}

// NewConfiger resolves the config file path under dir ("." when empty).
func NewConfiger(dir string) (*Configer, error) {
	if dir == "" {
		dir = "."
	}

	path := filepath.Join(dir, configFile)
	if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return &Configer{targetPath: path}, nil
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig parses config.toml, filling unset fields from defaults. A
// missing file yields the full default config.
func (c *Configer) LoadConfig() (*Config, error) {
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

// SaveConfig persists the configuration to config.toml.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SetConfigValue loads the config, sets the given key, and saves it back.
func (c *Configer) SetConfigValue(key, value string) error {
	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}
	if err := SetValue(cfg, key, value); err != nil {
		return err
	}
	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string form of the key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}
	return GetValue(cfg, key)
}

// ParseConfigTOML parses raw TOML bytes into a Config. A version field that
// is present and not CurrentV is rejected.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg from NewDefaultConfig().
// Booleans with a true default cannot be distinguished from an explicit
// false here; the server path goes through viper, which can.
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = d.Storage.Provider
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = d.Storage.SQLitePath
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = d.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = d.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = d.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = d.Embedding.Dimensions
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if cfg.LLM.Target == "" {
		cfg.LLM.Target = d.LLM.Target
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = d.LLM.Model
	}

	if cfg.Learning.IntervalSeconds == 0 {
		cfg.Learning.IntervalSeconds = d.Learning.IntervalSeconds
	}
	if cfg.Learning.BatchSize == 0 {
		cfg.Learning.BatchSize = d.Learning.BatchSize
	}
	if cfg.Learning.MergeThreshold == 0 {
		cfg.Learning.MergeThreshold = d.Learning.MergeThreshold
	}
	if cfg.Learning.RefineThreshold == 0 {
		cfg.Learning.RefineThreshold = d.Learning.RefineThreshold
	}
	if cfg.Learning.CorrectionThreshold == 0 {
		cfg.Learning.CorrectionThreshold = d.Learning.CorrectionThreshold
	}
	if cfg.Learning.ExtractRetries == 0 {
		cfg.Learning.ExtractRetries = d.Learning.ExtractRetries
	}

	if cfg.Search.InjectThreshold == 0 {
		cfg.Search.InjectThreshold = d.Search.InjectThreshold
	}
	if cfg.Search.PromptLimit == 0 {
		cfg.Search.PromptLimit = d.Search.PromptLimit
	}

	if cfg.Broker.Provider == "" {
		cfg.Broker.Provider = d.Broker.Provider
	}
	if cfg.Broker.GroupID == "" {
		cfg.Broker.GroupID = d.Broker.GroupID
	}

	if cfg.MCP.Listen == "" {
		cfg.MCP.Listen = d.MCP.Listen
	}
}
