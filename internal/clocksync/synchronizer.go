package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// ErrNoSamples is returned when every probe to a node failed
var ErrNoSamples = errors.New("no clock sync samples")

// Config defines the probe schedule
type Config struct {
	Probes  int           `mapstructure:"probes"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the clock sync defaults
func DefaultConfig() Config {
	return Config{
		Probes:  10,
		Timeout: 5 * time.Second,
	}
}

// Offset is the NTP two-way estimate of how far the node clock runs ahead.
// t1 and t4 are coordinator times, t2 and t3 node times, all in milliseconds.
func Offset(t1, t2, t3, t4 float64) float64 {
	return ((t2 - t1) + (t3 - t4)) / 2
}

// Median returns the median of values, 0 for an empty slice
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// NowMillis returns wall-clock time in fractional milliseconds
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// Synchronizer estimates per-node clock offsets
type Synchronizer struct {
	config Config
	logger *zap.Logger
	now    func() float64
}

// NewSynchronizer creates a new clock synchronizer
func NewSynchronizer(config Config, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		config: config,
		logger: logger.Named("clock-sync"),
		now:    NowMillis,
	}
}

// Measure probes the node and returns the median offset in milliseconds
func (s *Synchronizer) Measure(ctx context.Context, conn *transport.Connection) (float64, error) {
	probes := s.config.Probes
	if probes <= 0 {
		probes = 1
	}

	offsets := make([]float64, 0, probes)
	var lastErr error
	for i := 0; i < probes; i++ {
		t1 := s.now()
		resp, err := transport.Call[*protocol.ClockSyncResponse](ctx, conn,
			&protocol.ClockSyncRequest{Timestamp: t1}, s.config.Timeout)
		t4 := s.now()
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = err
			continue
		}
		offsets = append(offsets, Offset(t1, resp.ServerReceiveTime, resp.ServerSendTime, t4))
	}

	if len(offsets) == 0 {
		return 0, fmt.Errorf("%w for node %s: %w", ErrNoSamples, conn.Node().ID, lastErr)
	}

	offset := Median(offsets)
	s.logger.Debug("Clock offset estimated",
		zap.String("node_id", conn.Node().ID),
		zap.Int("samples", len(offsets)),
		zap.Float64("offset_ms", offset))

	return offset, nil
}

// SendOffsets delivers the full offset table to one connection. A failure
// only concerns that node and never excludes it from the run.
func (s *Synchronizer) SendOffsets(ctx context.Context, conn *transport.Connection, offsets map[string]float64) error {
	_, err := transport.Call[*protocol.ClockOffsetsAck](ctx, conn,
		&protocol.ClockOffsets{Offsets: offsets}, s.config.Timeout)
	if err != nil {
		s.logger.Warn("Failed to broadcast clock offsets",
			zap.String("node_id", conn.Node().ID),
			zap.Error(err))
	}
	return err
}
