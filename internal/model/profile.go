package model

import "time"

// ExecutionProfile is the agent-reported local execution measurement
type ExecutionProfile struct {
	TotalTime float64 `json:"totalTime"`
	CPUTime   float64 `json:"cpuTime,omitempty"`
	StartTime float64 `json:"startTime,omitempty"`
	EndTime   float64 `json:"endTime,omitempty"`
	ExitCode  int     `json:"exitCode"`
	Output    string  `json:"output,omitempty"`
}

// ResourceUsage is the agent-reported resource consumption of the execution
type ResourceUsage struct {
	CPUPercent      float64 `json:"cpuPercent"`
	MemoryBytes     uint64  `json:"memoryBytes"`
	PeakMemoryBytes uint64  `json:"peakMemoryBytes"`
	DiskIOBytes     uint64  `json:"diskIOBytes"`
	NetworkIOBytes  uint64  `json:"networkIOBytes"`
}

// CommunicationRecord is one inter-node message observed by an agent
type CommunicationRecord struct {
	Timestamp     float64 `json:"timestamp"`
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	Operation     string  `json:"operation,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
	Bytes         int64   `json:"bytes,omitempty"`
}

// DataMovement is the agent-reported byte locality of the execution
type DataMovement struct {
	LocalBytes  int64 `json:"localBytes"`
	RemoteBytes int64 `json:"remoteBytes"`
	Transfers   int   `json:"transfers"`
}

// AgentProfile is the opaque profile returned by a node's profiling agent
type AgentProfile struct {
	ExecutionProfile ExecutionProfile      `json:"executionProfile"`
	ResourceUsage    ResourceUsage         `json:"resourceUsage"`
	Bottlenecks      []Bottleneck          `json:"bottlenecks,omitempty"`
	Communications   []CommunicationRecord `json:"communications,omitempty"`
	DataMovement     *DataMovement         `json:"dataMovement,omitempty"`
}

// LatencyStats summarizes round-trip samples in milliseconds
type LatencyStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// BandwidthStats holds measured throughput in bits per second
type BandwidthStats struct {
	Upload      float64 `json:"upload"`
	Download    float64 `json:"download"`
	Utilization float64 `json:"utilization"`
}

// NetworkMetrics describes the coordinator-to-node link
type NetworkMetrics struct {
	Latency    LatencyStats   `json:"latency"`
	Bandwidth  BandwidthStats `json:"bandwidth"`
	PacketLoss float64        `json:"packetLoss"`
	Jitter     float64        `json:"jitter"`
	Hops       int            `json:"hops"`
}

// ResourceContention is the node-level contention snapshot reported by the agent
type ResourceContention struct {
	CPUContention     float64 `json:"cpuContention"`
	MemoryPressure    float64 `json:"memoryPressure"`
	IOWait            float64 `json:"ioWait"`
	NetworkSaturation float64 `json:"networkSaturation"`
	LoadAverage       float64 `json:"loadAverage"`
}

// NodeProfile is the per-node result of a run. Failed nodes carry zeroed metrics.
type NodeProfile struct {
	NodeID                  string             `json:"nodeId"`
	Profile                 AgentProfile       `json:"profile"`
	NetworkMetrics          NetworkMetrics     `json:"networkMetrics"`
	ResourceContention      ResourceContention `json:"resourceContention"`
	SynchronizationOverhead float64            `json:"synchronizationOverhead"`
	Status                  NodeStatus         `json:"status"`
	Stage                   NodeStage          `json:"stage,omitempty"`
	Error                   string             `json:"error,omitempty"`
}

// ExecutionTime returns the agent-reported execution time in milliseconds
func (p NodeProfile) ExecutionTime() float64 {
	return p.Profile.ExecutionProfile.TotalTime
}

// Succeeded reports whether the node completed profiling
func (p NodeProfile) Succeeded() bool {
	return p.Status == NodeStatusSuccess
}

// AggregatedMetrics summarizes the successful nodes of a run
type AggregatedMetrics struct {
	TotalExecutionTime   float64 `json:"totalExecutionTime"`
	AverageExecutionTime float64 `json:"averageExecutionTime"`
	MinExecutionTime     float64 `json:"minExecutionTime"`
	MaxExecutionTime     float64 `json:"maxExecutionTime"`
	StdDevExecutionTime  float64 `json:"stdDevExecutionTime"`
	TotalNetworkTime     float64 `json:"totalNetworkTime"`
	AverageCPUPercent    float64 `json:"averageCpuPercent"`
	PeakMemoryBytes      uint64  `json:"peakMemoryBytes"`
	TotalDiskIOBytes     uint64  `json:"totalDiskIOBytes"`
	TotalNetworkIOBytes  uint64  `json:"totalNetworkIOBytes"`
	SuccessfulNodes      int     `json:"successfulNodes"`
	FailedNodes          int     `json:"failedNodes"`
}

// DistributedProfile is the final artifact of a profiling run
type DistributedProfile struct {
	ID                   string                  `json:"id"`
	CodeID               string                  `json:"codeId"`
	Timestamp            time.Time               `json:"timestamp"`
	Nodes                []NodeProfile           `json:"nodes"`
	AggregatedMetrics    AggregatedMetrics       `json:"aggregatedMetrics"`
	NetworkAnalysis      *NetworkAnalysis        `json:"networkAnalysis,omitempty"`
	DistributionAnalysis *DistributionAnalysis   `json:"distributionAnalysis,omitempty"`
	Bottlenecks          []DistributedBottleneck `json:"bottlenecks"`
	Recommendations      []string                `json:"recommendations"`
	OverallScore         int                     `json:"overallScore"`
}
