package coordinator

import (
	"github.com/t77yq/distributed-profiler/internal/bottleneck"
	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/distribution"
	"github.com/t77yq/distributed-profiler/internal/network"
	"github.com/t77yq/distributed-profiler/internal/report"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// Config gathers the settings of every component a run uses
type Config struct {
	RPC          transport.Config     `mapstructure:"rpc"`
	ClockSync    clocksync.Config     `mapstructure:"clock_sync"`
	Network      network.Config       `mapstructure:"network"`
	Distribution distribution.Config  `mapstructure:"distribution"`
	Bottleneck   bottleneck.Config    `mapstructure:"bottleneck"`
	Scoring      report.ScoringConfig `mapstructure:"scoring"`
}

// DefaultConfig returns the defaults of every component
func DefaultConfig() Config {
	return Config{
		RPC:          transport.DefaultConfig(),
		ClockSync:    clocksync.DefaultConfig(),
		Network:      network.DefaultConfig(),
		Distribution: distribution.DefaultConfig(),
		Bottleneck:   bottleneck.DefaultConfig(),
		Scoring:      report.DefaultScoringConfig(),
	}
}
