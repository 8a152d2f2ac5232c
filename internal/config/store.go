package config

// StoreConfig configures the local entity store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RulesConfig configures rule table loading.
type RulesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"` // warn when tables change on disk
}
