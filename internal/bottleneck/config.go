package bottleneck

// Config holds the aggregation and recommendation thresholds
type Config struct {
	MinReportingNodes    int     `mapstructure:"min_reporting_nodes"`
	ImbalanceThreshold   float64 `mapstructure:"imbalance_threshold"`
	LocalityThreshold    float64 `mapstructure:"locality_threshold"`
	EfficiencyThreshold  float64 `mapstructure:"efficiency_threshold"`
	NetworkTimeThreshold float64 `mapstructure:"network_time_threshold_ms"`
	TopRemediations      int     `mapstructure:"top_remediations"`
}

// DefaultConfig returns the aggregation defaults
func DefaultConfig() Config {
	return Config{
		MinReportingNodes:    2,
		ImbalanceThreshold:   0.3,
		LocalityThreshold:    0.8,
		EfficiencyThreshold:  0.7,
		NetworkTimeThreshold: 1000,
		TopRemediations:      5,
	}
}
