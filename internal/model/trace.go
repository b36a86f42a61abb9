package model

// TraceEventType classifies entries of the run's trace log
type TraceEventType string

const (
	TraceEventStart         TraceEventType = "start"
	TraceEventEnd           TraceEventType = "end"
	TraceEventCommunication TraceEventType = "communication"
	TraceEventSync          TraceEventType = "sync"
	TraceEventResource      TraceEventType = "resource"
)

// Communication operations recognized by the pattern miner
const (
	OperationSend    = "send"
	OperationScatter = "scatter"
	OperationGather  = "gather"
)

// TraceData carries the typed payload of a trace event
type TraceData struct {
	Source        string  `json:"source,omitempty"`
	Target        string  `json:"target,omitempty"`
	Operation     string  `json:"operation,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
	Bytes         int64   `json:"bytes,omitempty"`
	Stage         string  `json:"stage,omitempty"`
	Offset        float64 `json:"offset,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// TraceEvent is one entry of the append-only trace log. Timestamps are milliseconds
// on the coordinator clock.
type TraceEvent struct {
	Timestamp float64        `json:"timestamp"`
	NodeID    string         `json:"nodeId"`
	EventType TraceEventType `json:"eventType"`
	Data      TraceData      `json:"data"`
	Duration  *float64       `json:"duration,omitempty"`
}
