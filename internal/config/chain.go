package config

// ChainConfig configures chain execution defaults. Individual chain rules
// may override these per run.
type ChainConfig struct {
	MaxEntities        int     `yaml:"max_entities" validate:"min=0"`
	MinRelevance       float64 `yaml:"min_relevance" validate:"min=0,max=1"`
	OwnershipThreshold float64 `yaml:"ownership_threshold" validate:"min=0,max=100"`
	ControlThreshold   float64 `yaml:"control_threshold" validate:"min=0,max=100"`
	PortfolioThreshold float64 `yaml:"portfolio_threshold" validate:"min=0,max=100"`
	ClusterThreshold   int     `yaml:"cluster_threshold" validate:"min=1"`
	AIFilter           bool    `yaml:"ai_filter"` // use the GenAI relevance filter
	GenAIModel         string  `yaml:"genai_model"`
	GenAIAPIKey        string  `yaml:"-"` // env only, never persisted
}
