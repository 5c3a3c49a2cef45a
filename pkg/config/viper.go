package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads config.toml from the
// given directory (if present), and binds environment variables with the
// SKILLMESH_ prefix.
//
// Config precedence (highest to lowest):
//  1. Environment variables (SKILLMESH_STORAGE_PROVIDER, ...)
//  2. config.toml file values
//  3. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	} else {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("SKILLMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load materializes a Config from a configured viper instance.
func Load(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Provider:    v.GetString("storage.provider"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
			VectorPath:  v.GetString("storage.vector_path"),
		},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
		},
		LLM: LLMConfig{
			Provider: v.GetString("llm.provider"),
			Target:   v.GetString("llm.target"),
			Model:    v.GetString("llm.model"),
		},
		Learning: LearningConfig{
			Enabled:             v.GetBool("learning.enabled"),
			Passive:             v.GetBool("learning.passive"),
			IntervalSeconds:     v.GetInt("learning.interval_seconds"),
			BatchSize:           v.GetInt("learning.batch_size"),
			MergeThreshold:      v.GetFloat64("learning.merge_threshold"),
			RefineThreshold:     v.GetFloat64("learning.refine_threshold"),
			CorrectionThreshold: v.GetInt("learning.correction_threshold"),
			ExtractRetries:      v.GetInt("learning.extract_retries"),
		},
		Search: SearchConfig{
			InjectThreshold: v.GetFloat64("search.inject_threshold"),
			PromptLimit:     v.GetInt("search.prompt_limit"),
		},
		Broker: BrokerConfig{
			Provider: v.GetString("broker.provider"),
			Brokers:  v.GetString("broker.brokers"),
			GroupID:  v.GetString("broker.group_id"),
			Agents:   v.GetString("broker.agents"),
			Gateways: v.GetString("broker.gateways"),
		},
		Skills: SkillsConfig{
			StaticDir:   v.GetString("skills.static_dir"),
			Watch:       v.GetBool("skills.watch"),
			ResourceDir: v.GetString("skills.resource_dir"),
		},
		MCP: MCPConfig{
			Listen: v.GetString("mcp.listen"),
		},
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.vector_path", d.Storage.VectorPath)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.target", d.LLM.Target)
	v.SetDefault("llm.model", d.LLM.Model)

	v.SetDefault("learning.enabled", d.Learning.Enabled)
	v.SetDefault("learning.passive", d.Learning.Passive)
	v.SetDefault("learning.interval_seconds", d.Learning.IntervalSeconds)
	v.SetDefault("learning.batch_size", d.Learning.BatchSize)
	v.SetDefault("learning.merge_threshold", d.Learning.MergeThreshold)
	v.SetDefault("learning.refine_threshold", d.Learning.RefineThreshold)
	v.SetDefault("learning.correction_threshold", d.Learning.CorrectionThreshold)
	v.SetDefault("learning.extract_retries", d.Learning.ExtractRetries)

	v.SetDefault("search.inject_threshold", d.Search.InjectThreshold)
	v.SetDefault("search.prompt_limit", d.Search.PromptLimit)

	v.SetDefault("broker.provider", d.Broker.Provider)
	v.SetDefault("broker.brokers", d.Broker.Brokers)
	v.SetDefault("broker.group_id", d.Broker.GroupID)
	v.SetDefault("broker.agents", d.Broker.Agents)
	v.SetDefault("broker.gateways", d.Broker.Gateways)

	v.SetDefault("skills.static_dir", d.Skills.StaticDir)
	v.SetDefault("skills.watch", d.Skills.Watch)
	v.SetDefault("skills.resource_dir", d.Skills.ResourceDir)

	v.SetDefault("mcp.listen", d.MCP.Listen)
}
