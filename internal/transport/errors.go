package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
)

// ErrConnectionClosed is returned for calls on a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// ConnectionError is returned when a node is unreachable or the handshake failed
type ConnectionError struct {
	NodeID string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to node %s failed: %v", e.NodeID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is returned when no response arrives within the call deadline
type TimeoutError struct {
	NodeID  string
	Type    protocol.MessageType
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s did not answer %s within %s", e.NodeID, e.Type, e.Timeout)
}

// AgentError is returned when the remote agent answers with an error payload
type AgentError struct {
	NodeID  string
	Type    protocol.MessageType
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent on node %s rejected %s: %s", e.NodeID, e.Type, e.Message)
}

// IsTimeout reports whether err is or wraps a TimeoutError
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// StatusOf maps a per-node boundary error to the node's final status
func StatusOf(err error) model.NodeStatus {
	switch {
	case err == nil:
		return model.NodeStatusSuccess
	case IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return model.NodeStatusTimeout
	default:
		return model.NodeStatusFailed
	}
}
