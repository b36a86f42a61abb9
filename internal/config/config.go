package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/distributed-profiler/internal/agent"
	"github.com/t77yq/distributed-profiler/internal/bottleneck"
	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/coordinator"
	"github.com/t77yq/distributed-profiler/internal/distribution"
	"github.com/t77yq/distributed-profiler/internal/logging"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/network"
	"github.com/t77yq/distributed-profiler/internal/report"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g. DPROF_RPC_TIMEOUT
const EnvPrefix = "DPROF"

var ErrInvalidConfig = errors.New("invalid configuration")

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// NATSConfig locates the broker. Embedded starts an in-process server.
type NATSConfig struct {
	URL           string               `mapstructure:"url"`
	Embedded      bool                 `mapstructure:"embedded"`
	EmbeddedPort  int                  `mapstructure:"embedded_port"`
	MaxReconnects int                  `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration        `mapstructure:"reconnect_wait"`
	Client        transport.NATSConfig `mapstructure:",squash"`
}

// AnalysisConfig groups the distribution and bottleneck heuristics
type AnalysisConfig struct {
	Distribution distribution.Config `mapstructure:"distribution"`
	Bottleneck   bottleneck.Config   `mapstructure:"bottleneck"`
}

type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type ScheduleConfig struct {
	Name       string        `mapstructure:"name"`
	Expression string        `mapstructure:"expression"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Config is the full process configuration
type Config struct {
	App       AppConfig            `mapstructure:"app"`
	Log       logging.Config       `mapstructure:"log"`
	NATS      NATSConfig           `mapstructure:"nats"`
	RPC       transport.Config     `mapstructure:"rpc"`
	ClockSync clocksync.Config     `mapstructure:"clock_sync"`
	Network   network.Config       `mapstructure:"network"`
	Analysis  AnalysisConfig       `mapstructure:"analysis"`
	Scoring   report.ScoringConfig `mapstructure:"scoring"`
	Run       coordinator.Options  `mapstructure:"run"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Schedule  ScheduleConfig       `mapstructure:"schedule"`
	Agent     agent.Config         `mapstructure:"agent"`
	Nodes     []model.NodeConfig   `mapstructure:"nodes"`
	Alerts    []model.AlertRule    `mapstructure:"alerts"`
}

// Coordinator returns the settings the coordinator consumes
func (c *Config) Coordinator() coordinator.Config {
	return coordinator.Config{
		RPC:          c.RPC,
		ClockSync:    c.ClockSync,
		Network:      c.Network,
		Distribution: c.Analysis.Distribution,
		Bottleneck:   c.Analysis.Bottleneck,
		Scoring:      c.Scoring,
	}
}

// Load reads path, or config.yaml from ./config or the working directory when
// path is empty, then applies DPROF_ environment overrides. A missing default
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	var errs []error

	if c.RPC.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc.timeout must be positive"))
	}
	if c.RPC.ProfilingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc.profiling_timeout must be positive"))
	}
	if c.ClockSync.Probes <= 0 {
		errs = append(errs, fmt.Errorf("clock_sync.probes must be positive"))
	}
	if c.Network.PingSamples <= 0 {
		errs = append(errs, fmt.Errorf("network.ping_samples must be positive"))
	}
	if cut := c.Network.RerouteCutoff; cut <= 0 || cut > 1 {
		errs = append(errs, fmt.Errorf("network.reroute_cutoff must be in (0, 1]"))
	}
	if p := c.Analysis.Distribution.ParallelFraction; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("analysis.distribution.parallel_fraction must be in [0, 1]"))
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required when storage is enabled"))
	}
	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("nodes[%d].id is required", i))
			continue
		}
		if seen[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "distributed-profiler")
	v.SetDefault("app.environment", "development")

	logCfg := logging.DefaultConfig()
	v.SetDefault("log.level", logCfg.Level)
	v.SetDefault("log.encoding", logCfg.Encoding)
	v.SetDefault("log.file.path", logCfg.File.Path)
	v.SetDefault("log.file.max_size_mb", logCfg.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", logCfg.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", logCfg.File.MaxAgeDays)
	v.SetDefault("log.file.compress", logCfg.File.Compress)

	natsCfg := transport.DefaultNATSConfig()
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.embedded_port", 4222)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.subject_prefix", natsCfg.SubjectPrefix)
	v.SetDefault("nats.connect_timeout", natsCfg.ConnectTimeout)
	v.SetDefault("nats.ping_interval", natsCfg.PingInterval)
	v.SetDefault("nats.drain_timeout", natsCfg.DrainTimeout)

	rpc := transport.DefaultConfig()
	v.SetDefault("rpc.timeout", rpc.Timeout)
	v.SetDefault("rpc.profiling_timeout", rpc.ProfilingTimeout)
	v.SetDefault("rpc.coordination_port", rpc.CoordinationPort)
	v.SetDefault("rpc.connect_attempts", rpc.ConnectAttempts)
	v.SetDefault("rpc.backoff.initial_delay", rpc.Backoff.InitialDelay)
	v.SetDefault("rpc.backoff.max_delay", rpc.Backoff.MaxDelay)
	v.SetDefault("rpc.backoff.multiplier", rpc.Backoff.Multiplier)

	clock := clocksync.DefaultConfig()
	v.SetDefault("clock_sync.probes", clock.Probes)
	v.SetDefault("clock_sync.timeout", clock.Timeout)

	net := network.DefaultConfig()
	v.SetDefault("network.ping_samples", net.PingSamples)
	v.SetDefault("network.ping_timeout", net.PingTimeout)
	v.SetDefault("network.payload_sizes", net.PayloadSizes)
	v.SetDefault("network.nominal_bandwidth_bps", net.NominalBandwidth)
	v.SetDefault("network.sequential", net.Sequential)
	v.SetDefault("network.bottleneck_threshold_ms", net.BottleneckThreshold)
	v.SetDefault("network.reroute_cutoff", net.RerouteCutoff)
	v.SetDefault("network.broadcast_window", net.BroadcastWindow)
	v.SetDefault("network.scatter_gather_window", net.ScatterGatherWindow)
	v.SetDefault("network.pipeline_gap", net.PipelineGap)
	v.SetDefault("network.weights.broadcast", net.Weights.Broadcast)
	v.SetDefault("network.weights.scatter_gather", net.Weights.ScatterGather)
	v.SetDefault("network.weights.pipeline", net.Weights.Pipeline)
	v.SetDefault("network.efficiencies.broadcast", net.Efficiencies.Broadcast)
	v.SetDefault("network.efficiencies.scatter_gather", net.Efficiencies.ScatterGather)
	v.SetDefault("network.efficiencies.pipeline", net.Efficiencies.Pipeline)

	dist := distribution.DefaultConfig()
	v.SetDefault("analysis.distribution.overload_factor", dist.OverloadFactor)
	v.SetDefault("analysis.distribution.underutilized_factor", dist.UnderutilizedFactor)
	v.SetDefault("analysis.distribution.parallel_fraction", dist.ParallelFraction)

	bn := bottleneck.DefaultConfig()
	v.SetDefault("analysis.bottleneck.min_reporting_nodes", bn.MinReportingNodes)
	v.SetDefault("analysis.bottleneck.imbalance_threshold", bn.ImbalanceThreshold)
	v.SetDefault("analysis.bottleneck.locality_threshold", bn.LocalityThreshold)
	v.SetDefault("analysis.bottleneck.efficiency_threshold", bn.EfficiencyThreshold)
	v.SetDefault("analysis.bottleneck.network_time_threshold_ms", bn.NetworkTimeThreshold)
	v.SetDefault("analysis.bottleneck.top_remediations", bn.TopRemediations)

	score := report.DefaultScoringConfig()
	v.SetDefault("scoring.variance_weight", score.VarianceWeight)
	v.SetDefault("scoring.variance_cap", score.VarianceCap)
	v.SetDefault("scoring.imbalance_weight", score.ImbalanceWeight)
	v.SetDefault("scoring.efficiency_weight", score.EfficiencyWeight)
	v.SetDefault("scoring.bottleneck_weight", score.BottleneckWeight)
	v.SetDefault("scoring.bottleneck_cap", score.BottleneckCap)

	v.SetDefault("run.sequential", false)
	v.SetDefault("run.max_concurrency", 0)
	v.SetDefault("run.duration", rpc.ProfilingTimeout)
	v.SetDefault("run.include_network_analysis", true)
	v.SetDefault("run.include_resource_contention", true)
	v.SetDefault("run.capture.enable_tracing", true)
	v.SetDefault("run.capture.enable_resource_monitoring", true)
	v.SetDefault("run.capture.sample_rate", 1.0)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "profile_history.db")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("schedule.name", "scheduled-profile")
	v.SetDefault("schedule.expression", "")
	v.SetDefault("schedule.timeout", 10*time.Minute)

	ag := agent.DefaultConfig()
	v.SetDefault("agent.node_id", ag.NodeID)
	v.SetDefault("agent.subject_prefix", ag.SubjectPrefix)
	v.SetDefault("agent.shell", ag.Shell)
	v.SetDefault("agent.work_dir", ag.WorkDir)
	v.SetDefault("agent.peer_pings", ag.PeerPings)
	v.SetDefault("agent.peer_timeout", ag.PeerTimeout)
	v.SetDefault("agent.cpu_threshold", ag.CPUThreshold)
	v.SetDefault("agent.memory_threshold", ag.MemoryThreshold)
	v.SetDefault("agent.iowait_threshold", ag.IOWaitThreshold)
	v.SetDefault("agent.enable_docker", ag.EnableDocker)
	v.SetDefault("agent.monitor.sample_interval", ag.Monitor.SampleInterval)
	v.SetDefault("agent.monitor.nominal_bandwidth_bps", ag.Monitor.NominalBandwidth)
}
