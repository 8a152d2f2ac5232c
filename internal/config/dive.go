package config

import "time"

// DiveConfig configures dive planning and execution.
type DiveConfig struct {
	MaxDomains        int    `yaml:"max_domains" validate:"min=1"`
	MaxPagesPerDomain int    `yaml:"max_pages_per_domain" validate:"min=1"`
	MaxTotalPages     int    `yaml:"max_total_pages" validate:"min=1"`
	Threads           int    `yaml:"threads" validate:"min=1,max=200"`
	FetcherBin        string `yaml:"fetcher_bin"` // external range fetcher; empty = in-process
	FetchTimeout      string `yaml:"fetch_timeout"`
}

// GetFetchTimeout returns the per-record fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Dive.FetchTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
