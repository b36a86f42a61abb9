package model

// NodeStatus represents the final outcome of a node in one profiling run
type NodeStatus string

const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusTimeout NodeStatus = "timeout"
)

// NodeStage represents the lifecycle stage of a node during a run
type NodeStage string

const (
	NodeStageConnecting       NodeStage = "connecting"
	NodeStageClockSyncing     NodeStage = "clock-syncing"
	NodeStageDeploying        NodeStage = "deploying"
	NodeStageProfiling        NodeStage = "profiling"
	NodeStageMeasuringNetwork NodeStage = "measuring-network"
	NodeStageCompleted        NodeStage = "completed"
	NodeStageFailed           NodeStage = "failed"
	NodeStageTimeout          NodeStage = "timeout"
)

// Terminal reports whether no further transitions are allowed from the stage
func (s NodeStage) Terminal() bool {
	return s == NodeStageCompleted || s == NodeStageFailed || s == NodeStageTimeout
}

// NodeConfig describes a worker node participating in a run
type NodeConfig struct {
	ID           string   `json:"id" mapstructure:"id"`
	Endpoint     string   `json:"endpoint" mapstructure:"endpoint"`
	Region       string   `json:"region,omitempty" mapstructure:"region"`
	Capabilities []string `json:"capabilities,omitempty" mapstructure:"capabilities"`
	MaxLoad      float64  `json:"max_load,omitempty" mapstructure:"max_load"`
}

// Address returns the channel address of the node's profiler
func (n NodeConfig) Address() string {
	return n.Endpoint + "/profiler/" + n.ID
}
