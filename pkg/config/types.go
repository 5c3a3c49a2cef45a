// Package config holds the persistent skillmesh configuration and its viper
// plumbing.
package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent skillmesh configuration stored as
// config.toml in the config directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	Learning  LearningConfig  `toml:"learning"`
	Search    SearchConfig    `toml:"search"`
	Broker    BrokerConfig    `toml:"broker"`
	Skills    SkillsConfig    `toml:"skills"`
	MCP       MCPConfig       `toml:"mcp"`
}

// StorageConfig selects and parameterizes the skill store driver.
type StorageConfig struct {
	Provider    string `toml:"provider,omitempty"` // inmemory, sqlite, postgres
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`

	// VectorPath enables a vector index: ":memory:" for the in-process
	// driver, any other value a sqlite-vec database path. Empty disables
	// the index; semantic search then scans stored embeddings.
	VectorPath string `toml:"vector_path,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"` // none, ollama, openai
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// LLMConfig holds extraction LLM settings. The API key comes from the
// environment, never from the file.
type LLMConfig struct {
	Provider string `toml:"provider,omitempty"` // none, ollama, openai, anthropic
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// LearningConfig tunes the background learning pipeline.
type LearningConfig struct {
	Enabled             bool    `toml:"enabled,omitempty"`
	Passive             bool    `toml:"passive,omitempty"`
	IntervalSeconds     int     `toml:"interval_seconds,omitempty"`
	BatchSize           int     `toml:"batch_size,omitempty"`
	MergeThreshold      float64 `toml:"merge_threshold,omitempty"`
	RefineThreshold     float64 `toml:"refine_threshold,omitempty"`
	CorrectionThreshold int     `toml:"correction_threshold,omitempty"`
	ExtractRetries      int     `toml:"extract_retries,omitempty"`
}

// SearchConfig tunes skill search and prompt injection.
type SearchConfig struct {
	InjectThreshold float64 `toml:"inject_threshold,omitempty"`
	PromptLimit     int     `toml:"prompt_limit,omitempty"`
}

// BrokerConfig selects the message transport.
type BrokerConfig struct {
	Provider string `toml:"provider,omitempty"` // inproc, kafka
	Brokers  string `toml:"brokers,omitempty"`  // comma-separated
	GroupID  string `toml:"group_id,omitempty"`
	Agents   string `toml:"agents,omitempty"` // comma-separated agent names to listen for
	Gateways string `toml:"gateways,omitempty"`
}

// SkillsConfig locates authored skills and resource bundles on disk.
type SkillsConfig struct {
	StaticDir   string `toml:"static_dir,omitempty"`
	Watch       bool   `toml:"watch,omitempty"`
	ResourceDir string `toml:"resource_dir,omitempty"`
}

// MCPConfig holds the agent-facing MCP endpoint settings.
type MCPConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(get func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *get(c) },
		set: func(c *Config, v string) error { *get(c) = v; return nil },
	}
}

func boolKey(name string, get func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*get(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = b
			return nil
		},
	}
}

func intKey(name string, get func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.Itoa(*get(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = n
			return nil
		},
	}
}

func floatKey(name string, get func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*get(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = f
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider":     stringKey(func(c *Config) *string { return &c.Storage.Provider }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"storage.vector_path":  stringKey(func(c *Config) *string { return &c.Storage.VectorPath }),

	"embedding.provider": stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":    stringKey(func(c *Config) *string { return &c.Embedding.Model }),
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

	"llm.provider": stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":   stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.model":    stringKey(func(c *Config) *string { return &c.LLM.Model }),

	"learning.enabled":              boolKey("learning.enabled", func(c *Config) *bool { return &c.Learning.Enabled }),
	"learning.passive":              boolKey("learning.passive", func(c *Config) *bool { return &c.Learning.Passive }),
	"learning.interval_seconds":     intKey("learning.interval_seconds", func(c *Config) *int { return &c.Learning.IntervalSeconds }),
	"learning.batch_size":           intKey("learning.batch_size", func(c *Config) *int { return &c.Learning.BatchSize }),
	"learning.merge_threshold":      floatKey("learning.merge_threshold", func(c *Config) *float64 { return &c.Learning.MergeThreshold }),
	"learning.refine_threshold":     floatKey("learning.refine_threshold", func(c *Config) *float64 { return &c.Learning.RefineThreshold }),
	"learning.correction_threshold": intKey("learning.correction_threshold", func(c *Config) *int { return &c.Learning.CorrectionThreshold }),
	"learning.extract_retries":      intKey("learning.extract_retries", func(c *Config) *int { return &c.Learning.ExtractRetries }),

	"search.inject_threshold": floatKey("search.inject_threshold", func(c *Config) *float64 { return &c.Search.InjectThreshold }),
	"search.prompt_limit":     intKey("search.prompt_limit", func(c *Config) *int { return &c.Search.PromptLimit }),

	"broker.provider": stringKey(func(c *Config) *string { return &c.Broker.Provider }),
	"broker.brokers":  stringKey(func(c *Config) *string { return &c.Broker.Brokers }),
	"broker.group_id": stringKey(func(c *Config) *string { return &c.Broker.GroupID }),
	"broker.agents":   stringKey(func(c *Config) *string { return &c.Broker.Agents }),
	"broker.gateways": stringKey(func(c *Config) *string { return &c.Broker.Gateways }),

	"skills.static_dir":   stringKey(func(c *Config) *string { return &c.Skills.StaticDir }),
	"skills.watch":        boolKey("skills.watch", func(c *Config) *bool { return &c.Skills.Watch }),
	"skills.resource_dir": stringKey(func(c *Config) *string { return &c.Skills.ResourceDir }),

	"mcp.listen": stringKey(func(c *Config) *string { return &c.MCP.Listen }),
}
