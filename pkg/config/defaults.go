package config

// CurrentV is the config schema version written by this build.
const CurrentV = 1

const (
	defaultStorageProvider = "sqlite"
	defaultSQLitePath      = "skillmesh.db"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultLLMProvider = "ollama"
	defaultLLMTarget   = "http://localhost:11434"
	defaultLLMModel    = "llama3.2"

	defaultLearningInterval    = 60
	defaultLearningBatchSize   = 10
	defaultMergeThreshold      = 0.9
	defaultRefineThreshold     = 0.7
	defaultCorrectionThreshold = 3
	defaultExtractRetries      = 3

	defaultInjectThreshold = 0.3
	defaultPromptLimit     = 10

	defaultBrokerProvider = "inproc"
	defaultBrokerGroupID  = "skillmesh"

	defaultMCPListen = ":8090"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider:   defaultStorageProvider,
			SQLitePath: defaultSQLitePath,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		LLM: LLMConfig{
			Provider: defaultLLMProvider,
			Target:   defaultLLMTarget,
			Model:    defaultLLMModel,
		},
		Learning: LearningConfig{
			Enabled:             true,
			Passive:             false,
			IntervalSeconds:     defaultLearningInterval,
			BatchSize:           defaultLearningBatchSize,
			MergeThreshold:      defaultMergeThreshold,
			RefineThreshold:     defaultRefineThreshold,
			CorrectionThreshold: defaultCorrectionThreshold,
			ExtractRetries:      defaultExtractRetries,
		},
		Search: SearchConfig{
			InjectThreshold: defaultInjectThreshold,
			PromptLimit:     defaultPromptLimit,
		},
		Broker: BrokerConfig{
			Provider: defaultBrokerProvider,
			GroupID:  defaultBrokerGroupID,
		},
		Skills: SkillsConfig{
			Watch: true,
		},
		MCP: MCPConfig{
			Listen: defaultMCPListen,
		},
	}
}
