package network

import "time"

// PatternWeights scale pattern frequencies into link usage
type PatternWeights struct {
	Broadcast     float64 `mapstructure:"broadcast"`
	ScatterGather float64 `mapstructure:"scatter_gather"`
	Pipeline      float64 `mapstructure:"pipeline"`
}

// PatternEfficiencies are the fixed efficiencies attributed to each pattern
type PatternEfficiencies struct {
	Broadcast     float64 `mapstructure:"broadcast"`
	ScatterGather float64 `mapstructure:"scatter_gather"`
	Pipeline      float64 `mapstructure:"pipeline"`
}

// Config holds network measurement and analysis parameters
type Config struct {
	PingSamples         int                 `mapstructure:"ping_samples"`
	PingTimeout         time.Duration       `mapstructure:"ping_timeout"`
	PayloadSizes        []int               `mapstructure:"payload_sizes"`
	NominalBandwidth    float64             `mapstructure:"nominal_bandwidth_bps"`
	Sequential          bool                `mapstructure:"sequential"`
	BottleneckThreshold float64             `mapstructure:"bottleneck_threshold_ms"`
	RerouteCutoff       float64             `mapstructure:"reroute_cutoff"`
	BroadcastWindow     time.Duration       `mapstructure:"broadcast_window"`
	ScatterGatherWindow time.Duration       `mapstructure:"scatter_gather_window"`
	PipelineGap         time.Duration       `mapstructure:"pipeline_gap"`
	Weights             PatternWeights      `mapstructure:"weights"`
	Efficiencies        PatternEfficiencies `mapstructure:"efficiencies"`
}

// DefaultConfig returns the network defaults
func DefaultConfig() Config {
	return Config{
		PingSamples:         20,
		PingTimeout:         5 * time.Second,
		PayloadSizes:        []int{1024, 10 * 1024, 100 * 1024},
		NominalBandwidth:    1e9,
		Sequential:          true,
		BottleneckThreshold: 100,
		RerouteCutoff:       0.8,
		BroadcastWindow:     100 * time.Millisecond,
		ScatterGatherWindow: 5 * time.Second,
		PipelineGap:         time.Second,
		Weights: PatternWeights{
			Broadcast:     0.5,
			ScatterGather: 0.7,
			Pipeline:      1.0,
		},
		Efficiencies: PatternEfficiencies{
			Broadcast:     0.8,
			ScatterGather: 0.7,
			Pipeline:      0.6,
		},
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
