package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownMessageType is returned when an envelope carries an unrecognized tag
var ErrUnknownMessageType = errors.New("unknown message type")

// Envelope is the JSON frame exchanged over a node channel
type Envelope struct {
	Type      MessageType     `json:"type"`
	MessageID string          `json:"messageId"`
	SessionID string          `json:"sessionId,omitempty"`
	NodeID    string          `json:"nodeId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewEnvelope wraps msg with a freshly generated message id
func NewEnvelope(sessionID, nodeID string, msg Message) (*Envelope, error) {
	return Reply(uuid.New().String(), sessionID, nodeID, msg)
}

// Reply wraps msg in an envelope correlated to an existing message id
func Reply(messageID, sessionID, nodeID string, msg Message) (*Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Type(), err)
	}
	return &Envelope{
		Type:      msg.Type(),
		MessageID: messageID,
		SessionID: sessionID,
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}, nil
}

// ErrorReply builds an envelope reporting a failure for a message id
func ErrorReply(messageID, sessionID, nodeID string, typ MessageType, cause error) *Envelope {
	return &Envelope{
		Type:      typ,
		MessageID: messageID,
		SessionID: sessionID,
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
		Error:     cause.Error(),
	}
}

// Marshal encodes an envelope
func Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Unmarshal decodes an envelope without decoding its payload
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// Decode returns the typed payload of the envelope
func Decode(env *Envelope) (Message, error) {
	var msg Message
	switch env.Type {
	case TypeCoordination:
		msg = &Coordination{}
	case TypeCoordinationAck:
		msg = &CoordinationAck{}
	case TypeClockSyncRequest:
		msg = &ClockSyncRequest{}
	case TypeClockSyncResponse:
		msg = &ClockSyncResponse{}
	case TypeClockOffsets:
		msg = &ClockOffsets{}
	case TypeClockOffsetsAck:
		msg = &ClockOffsetsAck{}
	case TypeDeployAgent:
		msg = &DeployAgent{}
	case TypeDeployAgentAck:
		msg = &DeployAgentAck{}
	case TypeStartProfiling:
		msg = &StartProfiling{}
	case TypeProfilingResult:
		msg = &ProfilingResult{}
	case TypeStopProfiling:
		msg = &StopProfiling{}
	case TypeStopProfilingAck:
		msg = &StopProfilingAck{}
	case TypePing:
		msg = &Ping{}
	case TypePong:
		msg = &Pong{}
	case TypeBandwidthTest:
		msg = &BandwidthTest{}
	case TypeBandwidthResult:
		msg = &BandwidthResult{}
	case TypeResourceContention:
		msg = &ResourceContention{}
	case TypeResourceContentionResult:
		msg = &ResourceContentionResult{}
	case TypeMeasureLatencyTo:
		msg = &MeasureLatencyTo{}
	case TypeLatencyResult:
		msg = &LatencyResult{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
		}
	}
	return msg, nil
}
