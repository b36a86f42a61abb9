package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// RandomPort asks the embedded server to pick a free port
const RandomPort = server.RANDOM_PORT

// Options configures an embedded NATS server
type Options struct {
	Host       string
	Port       int
	StartDelay time.Duration
}

// Start runs an embedded NATS server and waits until it accepts connections
func Start(opts Options) (*server.Server, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.StartDelay <= 0 {
		opts.StartDelay = 10 * time.Second
	}

	s, err := server.NewServer(&server.Options{
		Host:           opts.Host,
		Port:           opts.Port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		MaxPayload:     8 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go s.Start()
	if !s.ReadyForConnections(opts.StartDelay) {
		s.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after %s", opts.StartDelay)
	}
	return s, nil
}
