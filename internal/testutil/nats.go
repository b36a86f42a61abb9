package testutil

import (
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/distributed-profiler/internal/broker"
)

// StartServer starts an embedded NATS server on a random port for the test
func StartServer(t *testing.T) (*server.Server, string) {
	t.Helper()

	s, err := broker.Start(broker.Options{Port: broker.RandomPort})
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	return s, s.ClientURL()
}

// Connect opens a client connection to url closed at test cleanup
func Connect(t *testing.T, url string) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	return nc
}
