package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// Handler answers one envelope. A nil reply simulates a node that never answers.
type Handler func(env *protocol.Envelope) *protocol.Envelope

// PipeDialer opens in-memory channels served by per-node handlers
type PipeDialer struct {
	mu       sync.Mutex
	handlers map[string]Handler
	dialErrs map[string]error
	delays   map[string]time.Duration
	dials    map[string]int
}

// NewPipeDialer creates an empty pipe dialer
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{
		handlers: make(map[string]Handler),
		dialErrs: make(map[string]error),
		delays:   make(map[string]time.Duration),
		dials:    make(map[string]int),
	}
}

// Handle registers the handler serving a node
func (d *PipeDialer) Handle(nodeID string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[nodeID] = h
}

// FailDial makes every dial to the node fail with err
func (d *PipeDialer) FailDial(nodeID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrs[nodeID] = err
}

// Delay adds a one-way delay before each reply of the node
func (d *PipeDialer) Delay(nodeID string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays[nodeID] = delay
}

// Dials returns how many times the node was dialed
func (d *PipeDialer) Dials(nodeID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[nodeID]
}

// Dial implements transport.Dialer
func (d *PipeDialer) Dial(ctx context.Context, node model.NodeConfig, sessionID string) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials[node.ID]++
	if err, ok := d.dialErrs[node.ID]; ok {
		return nil, err
	}
	h, ok := d.handlers[node.ID]
	if !ok {
		return nil, fmt.Errorf("no handler for node %s", node.ID)
	}

	return &pipeChannel{
		nodeID:   node.ID,
		callback: "pipe://" + sessionID + "/" + node.ID,
		handler:  h,
		delay:    d.delays[node.ID],
		inbound:  make(chan []byte, 64),
		done:     make(chan struct{}),
	}, nil
}

type pipeChannel struct {
	nodeID   string
	callback string
	handler  Handler
	delay    time.Duration

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	inbound chan []byte
	done    chan struct{}
}

func (c *pipeChannel) Send(ctx context.Context, data []byte) error {
	env, err := protocol.Unmarshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnectionClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-c.done:
				return
			}
		}

		reply := c.handler(env)
		if reply == nil {
			return
		}
		out, err := protocol.Marshal(reply)
		if err != nil {
			return
		}
		select {
		case c.inbound <- out:
		case <-c.done:
		}
	}()
	return nil
}

func (c *pipeChannel) Inbound() <-chan []byte {
	return c.inbound
}

func (c *pipeChannel) CallbackAddress() string {
	return c.callback
}

func (c *pipeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	go func() {
		c.wg.Wait()
		close(c.inbound)
	}()
	return nil
}
