package config

// ArchiveConfig configures the bulk WAT processor.
type ArchiveConfig struct {
	MaxDownloads           int `yaml:"max_downloads" validate:"min=1"`
	MaxDownloadsAggressive int `yaml:"max_downloads_aggressive" validate:"min=1"`
	MaxProcess             int `yaml:"max_process" validate:"min=1"`
	MaxProcessAggressive   int `yaml:"max_process_aggressive" validate:"min=1"`
	MaxWATFiles            int `yaml:"max_wat_files" validate:"min=1"`
	AnchorCap              int `yaml:"anchor_cap" validate:"min=1"`
}

// DownloadSlots returns the concurrent download budget for the given mode.
func (a ArchiveConfig) DownloadSlots(aggressive bool) int {
	if aggressive {
		return a.MaxDownloadsAggressive
	}
	return a.MaxDownloads
}

// ProcessSlots returns the concurrent parse budget for the given mode.
func (a ArchiveConfig) ProcessSlots(aggressive bool) int {
	if aggressive {
		return a.MaxProcessAggressive
	}
	return a.MaxProcess
}
