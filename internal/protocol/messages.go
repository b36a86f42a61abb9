package protocol

import "github.com/t77yq/distributed-profiler/internal/model"

// MessageType is the wire tag of an envelope
type MessageType string

const (
	TypeCoordination             MessageType = "coordination"
	TypeCoordinationAck          MessageType = "coordination_ack"
	TypeClockSyncRequest         MessageType = "clock_sync_request"
	TypeClockSyncResponse        MessageType = "clock_sync_response"
	TypeClockOffsets             MessageType = "clock_offsets"
	TypeClockOffsetsAck          MessageType = "clock_offsets_ack"
	TypeDeployAgent              MessageType = "deploy_agent"
	TypeDeployAgentAck           MessageType = "deploy_agent_ack"
	TypeStartProfiling           MessageType = "start_profiling"
	TypeProfilingResult          MessageType = "profiling_result"
	TypeStopProfiling            MessageType = "stop_profiling"
	TypeStopProfilingAck         MessageType = "stop_profiling_ack"
	TypePing                     MessageType = "ping"
	TypePong                     MessageType = "pong"
	TypeBandwidthTest            MessageType = "bandwidth_test"
	TypeBandwidthResult          MessageType = "bandwidth_result"
	TypeResourceContention       MessageType = "resource_contention"
	TypeResourceContentionResult MessageType = "resource_contention_result"
	TypeMeasureLatencyTo         MessageType = "measure_latency_to"
	TypeLatencyResult            MessageType = "latency_result"
)

// Message is implemented by every typed payload carried in an envelope
type Message interface {
	Type() MessageType
}

// Coordination is the handshake sent when a channel opens
type Coordination struct {
	CoordinationPort int    `json:"coordinationPort"`
	NodeID           string `json:"nodeId"`
	CallbackAddress  string `json:"callbackAddress"`
}

type CoordinationAck struct {
	NodeID       string `json:"nodeId"`
	AgentVersion string `json:"agentVersion,omitempty"`
}

type ClockSyncRequest struct {
	Timestamp float64 `json:"timestamp"`
}

type ClockSyncResponse struct {
	ServerReceiveTime float64 `json:"serverReceiveTime"`
	ServerSendTime    float64 `json:"serverSendTime"`
}

type ClockOffsets struct {
	Offsets map[string]float64 `json:"offsets"`
}

type ClockOffsetsAck struct{}

// CaptureConfig selects what the agent instruments during execution
type CaptureConfig struct {
	EnableTracing            bool    `json:"enableTracing" mapstructure:"enable_tracing"`
	EnableResourceMonitoring bool    `json:"enableResourceMonitoring" mapstructure:"enable_resource_monitoring"`
	SampleRate               float64 `json:"sampleRate" mapstructure:"sample_rate"`
}

// ExecutionContext is forwarded to the agent alongside the code
type ExecutionContext struct {
	Language   string            `json:"language,omitempty"`
	Image      string            `json:"image,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Args       []string          `json:"args,omitempty"`
}

type DeployAgent struct {
	Code    string           `json:"code"`
	Context ExecutionContext `json:"context"`
	Config  CaptureConfig    `json:"config"`
}

type DeployAgentAck struct {
	Deployed bool `json:"deployed"`
}

// ProfilingOptions bounds a single profiling execution on a node
type ProfilingOptions struct {
	Duration                  int64 `json:"duration"`
	IncludeNetworkAnalysis    bool  `json:"includeNetworkAnalysis"`
	IncludeResourceContention bool  `json:"includeResourceContention"`
}

type StartProfiling struct {
	CodeID  string           `json:"codeId"`
	Code    string           `json:"code"`
	Context ExecutionContext `json:"context"`
	Options ProfilingOptions `json:"options"`
}

type ProfilingResult struct {
	Profile model.AgentProfile `json:"profile"`
}

type StopProfiling struct{}

type StopProfilingAck struct{}

type Ping struct{}

type Pong struct{}

// Bandwidth test directions
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

type BandwidthTest struct {
	Direction string `json:"direction"`
	Payload   []byte `json:"payload,omitempty"`
	Size      int    `json:"size,omitempty"`
}

type BandwidthResult struct {
	Payload  []byte `json:"payload,omitempty"`
	Received int    `json:"received,omitempty"`
}

type ResourceContention struct{}

type ResourceContentionResult struct {
	Contention model.ResourceContention `json:"contention"`
}

type MeasureLatencyTo struct {
	TargetNode     string `json:"targetNode"`
	TargetEndpoint string `json:"targetEndpoint"`
}

type LatencyResult struct {
	Latency float64 `json:"latency"`
}

func (Coordination) Type() MessageType { return TypeCoordination }
func (CoordinationAck) Type() MessageType { return TypeCoordinationAck }
func (ClockSyncRequest) Type() MessageType { return TypeClockSyncRequest }
func (ClockSyncResponse) Type() MessageType { return TypeClockSyncResponse }
func (ClockOffsets) Type() MessageType { return TypeClockOffsets }
func (ClockOffsetsAck) Type() MessageType { return TypeClockOffsetsAck }
func (DeployAgent) Type() MessageType { return TypeDeployAgent }
func (DeployAgentAck) Type() MessageType { return TypeDeployAgentAck }
func (StartProfiling) Type() MessageType { return TypeStartProfiling }
func (ProfilingResult) Type() MessageType { return TypeProfilingResult }
func (StopProfiling) Type() MessageType { return TypeStopProfiling }
func (StopProfilingAck) Type() MessageType { return TypeStopProfilingAck }
func (Ping) Type() MessageType { return TypePing }
func (Pong) Type() MessageType { return TypePong }
func (BandwidthTest) Type() MessageType { return TypeBandwidthTest }
func (BandwidthResult) Type() MessageType { return TypeBandwidthResult }
func (ResourceContention) Type() MessageType { return TypeResourceContention }
func (ResourceContentionResult) Type() MessageType { return TypeResourceContentionResult }
func (MeasureLatencyTo) Type() MessageType { return TypeMeasureLatencyTo }
func (LatencyResult) Type() MessageType { return TypeLatencyResult }
