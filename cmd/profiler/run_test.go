package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/broker"
	"github.com/t77yq/distributed-profiler/internal/config"
	"github.com/t77yq/distributed-profiler/internal/model"
)

func TestPrepareResolvesEndpointsToEmbeddedBroker(t *testing.T) {
	cfg := &config.Config{}
	cfg.NATS.URL = "nats://127.0.0.1:4222"
	cfg.NATS.Embedded = true
	cfg.NATS.EmbeddedPort = broker.RandomPort
	cfg.Nodes = []model.NodeConfig{
		{ID: "node1"},
		{ID: "node2", Endpoint: "nats://10.0.0.2:4222"},
	}
	a := &app{cfg: cfg, logger: zap.NewNop()}

	req, srv, err := a.prepare(&runFlags{code: "echo hello"}, nil)
	require.NoError(t, err)
	require.NotNil(t, srv)
	defer srv.Shutdown()

	require.Len(t, req.Nodes, 2)
	assert.Equal(t, srv.ClientURL(), req.Nodes[0].Endpoint)
	assert.Equal(t, "nats://10.0.0.2:4222", req.Nodes[1].Endpoint)
	assert.Equal(t, "inline", req.CodeID)
}

func TestPrepareWithoutCode(t *testing.T) {
	a := &app{cfg: &config.Config{}, logger: zap.NewNop()}

	_, srv, err := a.prepare(&runFlags{}, nil)
	require.Error(t, err)
	assert.Nil(t, srv)
}
