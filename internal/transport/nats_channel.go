package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
)

const inboundBufferSize = 256

// NodeSubject is the subject a node's agent listens on
func NodeSubject(prefix, nodeID string) string {
	return fmt.Sprintf("%s.%s", prefix, nodeID)
}

// PeerSubject is the request/reply subject used for node-to-node pings
func PeerSubject(prefix, nodeID string) string {
	return fmt.Sprintf("%s.%s.peer", prefix, nodeID)
}

// CallbackSubject is where a node replies to one session
func CallbackSubject(prefix, sessionID, nodeID string) string {
	return fmt.Sprintf("%s.coordinator.%s.%s", prefix, sessionID, nodeID)
}

// NATSConfig defines how node channels are opened over NATS
type NATSConfig struct {
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

// DefaultNATSConfig returns the NATS defaults
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix:  "profiler",
		ConnectTimeout: 5 * time.Second,
		PingInterval:   20 * time.Second,
		DrainTimeout:   5 * time.Second,
	}
}

// NATSDialer opens one NATS connection per node channel
type NATSDialer struct {
	config NATSConfig
	logger *zap.Logger
}

// NewNATSDialer creates a new NATS-backed dialer
func NewNATSDialer(config NATSConfig, logger *zap.Logger) *NATSDialer {
	return &NATSDialer{
		config: config,
		logger: logger.Named("nats-dialer"),
	}
}

// Dial connects to the node's endpoint and subscribes to the session callback subject
func (d *NATSDialer) Dial(ctx context.Context, node model.NodeConfig, sessionID string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("profiler-coordinator-%s-%s", sessionID, node.ID)),
		nats.Timeout(d.config.ConnectTimeout),
		nats.PingInterval(d.config.PingInterval),
		nats.DrainTimeout(d.config.DrainTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			d.logger.Warn("NATS disconnected",
				zap.String("node_id", node.ID),
				zap.Error(err))
		}),
	}

	nc, err := nats.Connect(node.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", node.Endpoint, err)
	}

	callback := CallbackSubject(d.config.SubjectPrefix, sessionID, node.ID)
	msgs := make(chan *nats.Msg, inboundBufferSize)
	sub, err := nc.ChanSubscribe(callback, msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", callback, err)
	}

	// The handshake must not race the subscription registration.
	if err := nc.FlushTimeout(d.config.ConnectTimeout); err != nil {
		sub.Unsubscribe()
		nc.Close()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}

	ch := &natsChannel{
		nc:       nc,
		sub:      sub,
		subject:  NodeSubject(d.config.SubjectPrefix, node.ID),
		callback: callback,
		inbound:  make(chan []byte, inboundBufferSize),
		done:     make(chan struct{}),
	}
	go ch.forward(msgs)

	d.logger.Debug("Channel opened",
		zap.String("node_id", node.ID),
		zap.String("address", node.Address()),
		zap.String("callback", callback))

	return ch, nil
}

type natsChannel struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	subject   string
	callback  string
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *natsChannel) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	return c.nc.Publish(c.subject, data)
}

func (c *natsChannel) Inbound() <-chan []byte {
	return c.inbound
}

func (c *natsChannel) CallbackAddress() string {
	return c.callback
}

func (c *natsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Unsubscribe()
		c.nc.Close()
	})
	return nil
}

// forward is the only writer of inbound
func (c *natsChannel) forward(msgs <-chan *nats.Msg) {
	defer close(c.inbound)
	for {
		select {
		case <-c.done:
			return
		case msg := <-msgs:
			select {
			case c.inbound <- msg.Data:
			case <-c.done:
				return
			}
		}
	}
}
