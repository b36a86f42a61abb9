package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
)

// State is the lifecycle state of a connection
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection correlates requests and responses over one node channel.
// A single dispatch loop owns the inbound side.
type Connection struct {
	node           model.NodeConfig
	sessionID      string
	channel        Channel
	defaultTimeout time.Duration
	logger         *zap.Logger

	state     atomic.Int32
	mu        sync.Mutex
	pending   map[string]chan *protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(node model.NodeConfig, sessionID string, channel Channel, defaultTimeout time.Duration, logger *zap.Logger) *Connection {
	c := &Connection{
		node:           node,
		sessionID:      sessionID,
		channel:        channel,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		pending:        make(map[string]chan *protocol.Envelope),
		done:           make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	go c.dispatch()
	return c
}

// Node returns the node this connection belongs to
func (c *Connection) Node() model.NodeConfig {
	return c.node
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Pending returns the number of in-flight requests
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Request sends msg and waits for the correlated response, the timeout, ctx
// cancellation, or connection close, whichever comes first.
func (c *Connection) Request(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	if c.State() == StateClosed {
		return nil, ErrConnectionClosed
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	env, err := protocol.NewEnvelope(c.sessionID, c.node.ID, msg)
	if err != nil {
		return nil, err
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	respCh := make(chan *protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[env.MessageID] = respCh
	c.mu.Unlock()
	defer c.deregister(env.MessageID)

	if err := c.channel.Send(ctx, data); err != nil {
		return nil, &ConnectionError{NodeID: c.node.ID, Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, &AgentError{NodeID: c.node.ID, Type: msg.Type(), Message: resp.Error}
		}
		decoded, err := protocol.Decode(resp)
		if err != nil {
			return nil, &AgentError{NodeID: c.node.ID, Type: msg.Type(), Message: err.Error()}
		}
		return decoded, nil
	case <-timer.C:
		return nil, &TimeoutError{NodeID: c.node.ID, Type: msg.Type(), Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

// Call is Request with the response asserted to the expected type
func Call[T protocol.Message](ctx context.Context, c *Connection, msg protocol.Message, timeout time.Duration) (T, error) {
	var zero T
	resp, err := c.Request(ctx, msg, timeout)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, &AgentError{
			NodeID:  c.node.ID,
			Type:    msg.Type(),
			Message: fmt.Sprintf("unexpected response type %s", resp.Type()),
		}
	}
	return typed, nil
}

// Close closes the channel and rejects every pending request
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		err = c.channel.Close()

		c.mu.Lock()
		c.pending = make(map[string]chan *protocol.Envelope)
		c.mu.Unlock()
	})
	return err
}

func (c *Connection) markOpen() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

func (c *Connection) deregister(messageID string) {
	c.mu.Lock()
	delete(c.pending, messageID)
	c.mu.Unlock()
}

// dispatch routes every inbound frame to its waiting request
func (c *Connection) dispatch() {
	for data := range c.channel.Inbound() {
		env, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame",
				zap.String("node_id", c.node.ID),
				zap.Error(err))
			continue
		}

		c.mu.Lock()
		respCh, ok := c.pending[env.MessageID]
		if ok {
			delete(c.pending, env.MessageID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("Dropping uncorrelated message",
				zap.String("node_id", c.node.ID),
				zap.String("type", string(env.Type)),
				zap.String("message_id", env.MessageID))
			continue
		}
		respCh <- env
	}

	// Channel closed underneath us
	c.Close()
}
