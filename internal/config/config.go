// Package config loads and validates submarine configuration.
//
// Configuration is layered: built-in defaults, then the YAML file
// (.submarine/config.yaml), then SUBMARINE_* environment variables.
// Hard caps are clamped after all layers are applied. Section structs
// live in their own files (ccindex.go, dive.go, chain.go, ...).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all submarine configuration.
type Config struct {
	// Workspace is the directory holding .submarine/ state
	// (logs, checkpoints, rule tables, the entity store).
	Workspace string `yaml:"workspace"`

	CCIndex CCIndexConfig `yaml:"cc_index"`
	Sonar   SonarConfig   `yaml:"sonar"`
	Dive    DiveConfig    `yaml:"dive"`
	Archive ArchiveConfig `yaml:"archive"`
	Chain   ChainConfig   `yaml:"chain"`
	Store   StoreConfig   `yaml:"store"`
	Rules   RulesConfig   `yaml:"rules"`
	Logging LoggingConfig `yaml:"logging"`
}

// Hard caps applied after all config layers.
const (
	MaxConcurrencyCap = 32
	MaxPagesCap       = 500
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",

		CCIndex: CCIndexConfig{
			Endpoint:    "https://index.commoncrawl.org",
			MirrorURL:   "https://data.commoncrawl.org",
			Archives:    []string{"CC-MAIN-2025-26", "CC-MAIN-2025-21", "CC-MAIN-2025-13"},
			Concurrency: 8,
			Timeout:     "30s",
			Retries:     3,
			PageLimit:   1000,
			CacheTTL:    "15m",
			CacheSize:   1000,
		},

		Sonar: SonarConfig{
			BaseURL: "http://localhost:9200",
			Indices: map[string]string{
				"entity": "sonar-entities",
				"breach": "sonar-breaches",
				"graph":  "sonar-graph",
				"domain": "sonar-domains",
			},
			Timeout: "20s",
			Limit:   100,
		},

		Dive: DiveConfig{
			MaxDomains:        200,
			MaxPagesPerDomain: 10,
			MaxTotalPages:     500,
			Threads:           50,
			FetchTimeout:      "60s",
		},

		Archive: ArchiveConfig{
			MaxDownloads:           20,
			MaxDownloadsAggressive: 50,
			MaxProcess:             10,
			MaxProcessAggressive:   32,
			MaxWATFiles:            100,
			AnchorCap:              200,
		},

		Chain: ChainConfig{
			MaxEntities:        500,
			MinRelevance:       0.3,
			OwnershipThreshold: 25,
			ControlThreshold:   50,
			PortfolioThreshold: 5,
			ClusterThreshold:   2,
			GenAIModel:         "gemini-2.0-flash",
		},

		Store: StoreConfig{
			Enabled: false,
			Path:    ".submarine/entities.db",
		},

		Rules: RulesConfig{
			Dir:   "rules",
			Watch: true,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			cfg.clampCaps()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.clampCaps()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("SUBMARINE_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if v := os.Getenv("SUBMARINE_CC_INDEX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CCIndex.Concurrency = n
		}
	}
	if v := os.Getenv("SUBMARINE_MAX_DOMAINS_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dive.MaxDomains = n
		}
	}
	if v := os.Getenv("SUBMARINE_MAX_PAGES_PER_DOMAIN_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dive.MaxPagesPerDomain = n
		}
	}
	if v := os.Getenv("SUBMARINE_FETCH_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dive.Threads = n
		}
	}
	if url := os.Getenv("SUBMARINE_CC_MIRROR"); url != "" {
		c.CCIndex.MirrorURL = url
	}
	if url := os.Getenv("SUBMARINE_SONAR_URL"); url != "" {
		c.Sonar.BaseURL = url
	}
	if addr := os.Getenv("SUBMARINE_REDIS_ADDR"); addr != "" {
		c.CCIndex.RedisAddr = addr
	}
	if key := os.Getenv("SUBMARINE_GENAI_API_KEY"); key != "" {
		c.Chain.GenAIAPIKey = key
	}
	// Same key the rest of the Gemini tooling uses, as a fallback.
	if c.Chain.GenAIAPIKey == "" {
		c.Chain.GenAIAPIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// clampCaps enforces hard limits regardless of where a value came from.
func (c *Config) clampCaps() {
	if c.CCIndex.Concurrency < 1 {
		c.CCIndex.Concurrency = 1
	}
	if c.CCIndex.Concurrency > MaxConcurrencyCap {
		c.CCIndex.Concurrency = MaxConcurrencyCap
	}
	if c.Dive.MaxPagesPerDomain > MaxPagesCap {
		c.Dive.MaxPagesPerDomain = MaxPagesCap
	}
	if c.Dive.MaxTotalPages > MaxPagesCap {
		c.Dive.MaxTotalPages = MaxPagesCap
	}
}
