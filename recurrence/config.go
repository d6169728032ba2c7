package recurrence

// EngineConfig holds configuration options for the recurrence engine
type EngineConfig struct {
	PastEventPolicy PastEventPolicy

	// MaxScanOccurrences bounds how many instances Instances will expand.
	MaxScanOccurrences int
}

// DefaultEngineConfig provides sensible defaults for production use
var DefaultEngineConfig = EngineConfig{
	PastEventPolicy:    RetainPastEvents,
	MaxScanOccurrences: 1000,
}

// NewEngineWithConfig creates a new recurrence engine with custom configuration
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.MaxScanOccurrences <= 0 {
		config.MaxScanOccurrences = DefaultEngineConfig.MaxScanOccurrences
	}
	return &Engine{config: config}
}
