package model

// BottleneckType classifies a bottleneck
type BottleneckType string

const (
	BottleneckCPU             BottleneckType = "cpu"
	BottleneckMemory          BottleneckType = "memory"
	BottleneckIO              BottleneckType = "io"
	BottleneckNetwork         BottleneckType = "network"
	BottleneckSynchronization BottleneckType = "synchronization"
	BottleneckLoadImbalance   BottleneckType = "load_imbalance"
)

// Bottleneck is a single agent-reported local bottleneck
type Bottleneck struct {
	Type        BottleneckType `json:"type"`
	Location    string         `json:"location"`
	Impact      float64        `json:"impact"`
	Description string         `json:"description,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
}

// DistributedBottleneck is a bottleneck affecting one or more nodes of the run
type DistributedBottleneck struct {
	Type        BottleneckType `json:"type"`
	Location    string         `json:"location"`
	Impact      float64        `json:"impact"`
	Nodes       []string       `json:"nodes"`
	Description string         `json:"description"`
	Remediation string         `json:"remediation"`
}
