package distribution

// Config holds the load distribution heuristics
type Config struct {
	OverloadFactor      float64 `mapstructure:"overload_factor"`
	UnderutilizedFactor float64 `mapstructure:"underutilized_factor"`
	ParallelFraction    float64 `mapstructure:"parallel_fraction"`
}

// DefaultConfig returns the distribution defaults
func DefaultConfig() Config {
	return Config{
		OverloadFactor:      1.5,
		UnderutilizedFactor: 0.5,
		ParallelFraction:    0.9,
	}
}
