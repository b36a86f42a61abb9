package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
)

// Config defines per-call timeouts and connect behaviour
type Config struct {
	Timeout          time.Duration      `mapstructure:"timeout"`
	ProfilingTimeout time.Duration      `mapstructure:"profiling_timeout"`
	CoordinationPort int                `mapstructure:"coordination_port"`
	ConnectAttempts  int                `mapstructure:"connect_attempts"`
	Backoff          ExponentialBackoff `mapstructure:"backoff"`
}

// DefaultConfig returns the RPC defaults
func DefaultConfig() Config {
	return Config{
		Timeout:          5000 * time.Millisecond,
		ProfilingTimeout: 30000 * time.Millisecond,
		CoordinationPort: 7420,
		ConnectAttempts:  3,
		Backoff: ExponentialBackoff{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}
}

// Manager owns the connections of one session
type Manager struct {
	dialer    Dialer
	sessionID string
	config    Config
	logger    *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewManager creates a connection manager for a session
func NewManager(dialer Dialer, sessionID string, config Config, logger *zap.Logger) *Manager {
	return &Manager{
		dialer:    dialer,
		sessionID: sessionID,
		config:    config,
		logger:    logger.Named("connection-manager"),
		conns:     make(map[string]*Connection),
	}
}

// Connect opens the node's channel and performs the coordination handshake
func (m *Manager) Connect(ctx context.Context, node model.NodeConfig) (*Connection, error) {
	channel, err := m.dial(ctx, node)
	if err != nil {
		return nil, &ConnectionError{NodeID: node.ID, Err: err}
	}

	conn := newConnection(node, m.sessionID, channel, m.config.Timeout, m.logger)
	_, err = Call[*protocol.CoordinationAck](ctx, conn, &protocol.Coordination{
		CoordinationPort: m.config.CoordinationPort,
		NodeID:           node.ID,
		CallbackAddress:  channel.CallbackAddress(),
	}, m.config.Timeout)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{NodeID: node.ID, Err: fmt.Errorf("handshake failed: %w", err)}
	}
	conn.markOpen()

	m.mu.Lock()
	if old, ok := m.conns[node.ID]; ok {
		old.Close()
	}
	m.conns[node.ID] = conn
	m.mu.Unlock()

	m.logger.Info("Node connected",
		zap.String("node_id", node.ID),
		zap.String("address", node.Address()))

	return conn, nil
}

func (m *Manager) dial(ctx context.Context, node model.NodeConfig) (Channel, error) {
	attempts := m.config.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		channel, err := m.dialer.Dial(ctx, node, m.sessionID)
		if err == nil {
			return channel, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		m.logger.Warn("Failed to open channel, retrying...",
			zap.String("node_id", node.ID),
			zap.Int("attempt", i+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.config.Backoff.NextRetry(i)):
		}
	}
	return nil, lastErr
}

// Get returns the open connection of a node
func (m *Manager) Get(nodeID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[nodeID]
	return conn, ok
}

// Len returns the number of tracked connections
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll closes every connection and forgets them
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			m.logger.Error("Failed to close connection",
				zap.String("node_id", id),
				zap.Error(err))
		}
	}
}
