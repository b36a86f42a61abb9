package transport

import (
	"context"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// Channel is a duplex byte channel to one node
type Channel interface {
	// Send delivers one frame to the node
	Send(ctx context.Context, data []byte) error

	// Inbound yields frames sent by the node. It is closed when the channel closes.
	Inbound() <-chan []byte

	// CallbackAddress is where the node must send its replies
	CallbackAddress() string

	// Close releases the channel
	Close() error
}

// Dialer opens channels to nodes on behalf of a session
type Dialer interface {
	Dial(ctx context.Context, node model.NodeConfig, sessionID string) (Channel, error)
}
