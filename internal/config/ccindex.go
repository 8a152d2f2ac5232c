package config

import "time"

// CCIndexConfig configures the Common Crawl index client (Periscope).
type CCIndexConfig struct {
	Endpoint    string   `yaml:"endpoint"`   // CDX API base
	MirrorURL   string   `yaml:"mirror_url"` // WARC data mirror
	Archives    []string `yaml:"archives"`   // archive IDs, newest first
	Concurrency int      `yaml:"concurrency" validate:"min=1,max=32"`
	Timeout     string   `yaml:"timeout"` // per-request
	Retries     int      `yaml:"retries" validate:"min=0,max=10"`
	PageLimit   int      `yaml:"page_limit" validate:"min=1"` // index rows per query
	CacheTTL    string   `yaml:"cache_ttl"`
	CacheSize   int      `yaml:"cache_size" validate:"min=1"`
	RedisAddr   string   `yaml:"redis_addr"` // optional Redis cache backend
}

// GetCCTimeout returns the CC index request timeout as a duration.
func (c *Config) GetCCTimeout() time.Duration {
	d, err := time.ParseDuration(c.CCIndex.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheTTL returns the index cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CCIndex.CacheTTL)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}
