package model

// PatternType names a mined communication shape
type PatternType string

const (
	PatternBroadcast     PatternType = "broadcast"
	PatternScatterGather PatternType = "scatter-gather"
	PatternPipeline      PatternType = "pipeline"
)

// CommunicationPattern is the frequency/volume/efficiency triple of one pattern type
type CommunicationPattern struct {
	Type       PatternType `json:"type"`
	Frequency  int         `json:"frequency"`
	DataVolume int64       `json:"dataVolume"`
	Efficiency float64     `json:"efficiency"`
	Nodes      []string    `json:"nodes,omitempty"`
}

// BottleneckLink is a directed node pair whose latency exceeds the threshold
type BottleneckLink struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Latency float64 `json:"latency"`
	Usage   float64 `json:"usage"`
	Impact  float64 `json:"impact"`
}

// RoutingRecommendation proposes a two-hop path around a bottleneck link
type RoutingRecommendation struct {
	From             string   `json:"from"`
	To               string   `json:"to"`
	CurrentLatency   float64  `json:"currentLatency"`
	Path             []string `json:"path"`
	AlternateLatency float64  `json:"alternateLatency"`
	Improvement      float64  `json:"improvement"`
}

// LatencyMatrix maps from -> to -> latency in milliseconds. It is directional.
type LatencyMatrix map[string]map[string]float64

// Set records the latency of the directed pair
func (m LatencyMatrix) Set(from, to string, latency float64) {
	row, ok := m[from]
	if !ok {
		row = make(map[string]float64)
		m[from] = row
	}
	row[to] = latency
}

// Get returns the latency of the directed pair
func (m LatencyMatrix) Get(from, to string) (float64, bool) {
	row, ok := m[from]
	if !ok {
		return 0, false
	}
	v, ok := row[to]
	return v, ok
}

// NetworkAnalysis is the network section of a distributed profile
type NetworkAnalysis struct {
	LatencyMatrix          LatencyMatrix           `json:"latencyMatrix"`
	CommunicationPatterns  []CommunicationPattern  `json:"communicationPatterns"`
	BottleneckLinks        []BottleneckLink        `json:"bottleneckLinks"`
	RoutingRecommendations []RoutingRecommendation `json:"routingRecommendations"`
}

// LoadBalance describes how evenly execution time was spread over nodes
type LoadBalance struct {
	Imbalance          float64  `json:"imbalance"`
	MeanExecutionTime  float64  `json:"meanExecutionTime"`
	OverloadedNodes    []string `json:"overloadedNodes"`
	UnderutilizedNodes []string `json:"underutilizedNodes"`
}

// ParallelEfficiency describes the achieved and theoretical speedup
type ParallelEfficiency struct {
	Speedup          float64 `json:"speedup"`
	Efficiency       float64 `json:"efficiency"`
	AmdahlLimit      float64 `json:"amdahlLimit"`
	ParallelFraction float64 `json:"parallelFraction"`
	NodeCount        int     `json:"nodeCount"`
}

// DataLocality describes cross-node data movement
type DataLocality struct {
	LocalityScore      float64 `json:"localityScore"`
	LocalBytes         int64   `json:"localBytes"`
	RemoteBytes        int64   `json:"remoteBytes"`
	CrossNodeTransfers int     `json:"crossNodeTransfers"`
	Instrumented       bool    `json:"instrumented"`
}

// DistributionAnalysis is the load-distribution section of a distributed profile
type DistributionAnalysis struct {
	LoadBalance        LoadBalance        `json:"loadBalance"`
	ParallelEfficiency ParallelEfficiency `json:"parallelEfficiency"`
	DataLocality       DataLocality       `json:"dataLocality"`
}
