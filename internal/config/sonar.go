package config

import "time"

// SonarConfig configures lookups against the pre-built entity indices.
type SonarConfig struct {
	BaseURL string            `yaml:"base_url"`
	Indices map[string]string `yaml:"indices"` // role -> index name
	Timeout string            `yaml:"timeout"`
	Limit   int               `yaml:"limit" validate:"min=1"`
}

// GetSonarTimeout returns the per-index sonar timeout as a duration.
func (c *Config) GetSonarTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sonar.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}
