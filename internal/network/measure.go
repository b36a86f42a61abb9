package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// ErrNoLatencySamples is returned when every ping to a node failed
var ErrNoLatencySamples = errors.New("no latency samples")

// directHops is reported for the single broker hop between coordinator and node
const directHops = 1

// Analyzer performs network measurements against connected nodes
type Analyzer struct {
	config Config
	logger *zap.Logger
	now    func() float64
}

// NewAnalyzer creates a new network analyzer
func NewAnalyzer(config Config, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		config: config,
		logger: logger.Named("network-analyzer"),
		now:    clocksync.NowMillis,
	}
}

// MeasureLatency pings the node and returns samples in measurement order and
// the fraction of pings that got no answer.
func (a *Analyzer) MeasureLatency(ctx context.Context, conn *transport.Connection) ([]float64, float64, error) {
	count := a.config.PingSamples
	if count <= 0 {
		count = 1
	}

	samples := make([]float64, 0, count)
	lost := 0
	for i := 0; i < count; i++ {
		start := a.now()
		_, err := transport.Call[*protocol.Pong](ctx, conn, &protocol.Ping{}, a.config.PingTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lost++
			continue
		}
		samples = append(samples, a.now()-start)
	}

	loss := float64(lost) / float64(count)
	if len(samples) == 0 {
		return nil, loss, fmt.Errorf("%w for node %s", ErrNoLatencySamples, conn.Node().ID)
	}
	return samples, loss, nil
}

// MeasureBandwidth returns the best upload and download throughput in bits/s
// observed over the configured payload sizes.
func (a *Analyzer) MeasureBandwidth(ctx context.Context, conn *transport.Connection) (model.BandwidthStats, error) {
	var stats model.BandwidthStats
	var lastErr error

	for _, size := range a.config.PayloadSizes {
		start := a.now()
		_, err := transport.Call[*protocol.BandwidthResult](ctx, conn, &protocol.BandwidthTest{
			Direction: protocol.DirectionUpload,
			Payload:   make([]byte, size),
		}, a.config.PingTimeout)
		if err == nil {
			stats.Upload = max(stats.Upload, bitsPerSecond(size, a.now()-start))
		} else {
			lastErr = err
		}

		start = a.now()
		resp, err := transport.Call[*protocol.BandwidthResult](ctx, conn, &protocol.BandwidthTest{
			Direction: protocol.DirectionDownload,
			Size:      size,
		}, a.config.PingTimeout)
		if err == nil {
			stats.Download = max(stats.Download, bitsPerSecond(len(resp.Payload), a.now()-start))
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}

	if a.config.NominalBandwidth > 0 {
		stats.Utilization = min(1, max(stats.Upload, stats.Download)/a.config.NominalBandwidth)
	}
	if stats.Upload == 0 && stats.Download == 0 && lastErr != nil {
		return stats, lastErr
	}
	return stats, nil
}

func bitsPerSecond(bytes int, elapsedMs float64) float64 {
	if bytes <= 0 || elapsedMs <= 0 {
		return 0
	}
	return float64(bytes) * 8 / (elapsedMs / 1000)
}

// MeasureNode collects the full NetworkMetrics of one node
func (a *Analyzer) MeasureNode(ctx context.Context, conn *transport.Connection) (model.NetworkMetrics, error) {
	metrics := model.NetworkMetrics{Hops: directHops}

	samples, loss, err := a.MeasureLatency(ctx, conn)
	metrics.PacketLoss = loss
	if err != nil {
		return metrics, err
	}
	metrics.Latency = LatencyStats(samples)
	metrics.Jitter = Jitter(samples)

	bandwidth, err := a.MeasureBandwidth(ctx, conn)
	metrics.Bandwidth = bandwidth
	if err != nil {
		return metrics, err
	}
	return metrics, nil
}

// MeasureContention asks the node agent for its resource contention snapshot
func (a *Analyzer) MeasureContention(ctx context.Context, conn *transport.Connection) (model.ResourceContention, error) {
	resp, err := transport.Call[*protocol.ResourceContentionResult](ctx, conn, &protocol.ResourceContention{}, a.config.PingTimeout)
	if err != nil {
		return model.ResourceContention{}, err
	}
	return resp.Contention, nil
}

// LatencyMatrix asks every node to measure its own latency to every other node.
// Pairs whose measurement fails are left out of the matrix.
func (a *Analyzer) LatencyMatrix(ctx context.Context, conns []*transport.Connection) model.LatencyMatrix {
	matrix := make(model.LatencyMatrix)
	var mu sync.Mutex

	measureFrom := func(from *transport.Connection) {
		for _, to := range conns {
			if to.Node().ID == from.Node().ID {
				continue
			}
			resp, err := transport.Call[*protocol.LatencyResult](ctx, from, &protocol.MeasureLatencyTo{
				TargetNode:     to.Node().ID,
				TargetEndpoint: to.Node().Endpoint,
			}, a.config.PingTimeout)
			if err != nil {
				a.logger.Warn("Failed to measure inter-node latency",
					zap.String("from", from.Node().ID),
					zap.String("to", to.Node().ID),
					zap.Error(err))
				continue
			}
			mu.Lock()
			matrix.Set(from.Node().ID, to.Node().ID, resp.Latency)
			mu.Unlock()
		}
	}

	if a.config.Sequential {
		for _, from := range conns {
			measureFrom(from)
		}
		return matrix
	}

	var wg sync.WaitGroup
	for _, from := range conns {
		wg.Add(1)
		go func(from *transport.Connection) {
			defer wg.Done()
			measureFrom(from)
		}(from)
	}
	wg.Wait()
	return matrix
}

// Analyze mines the trace log and derives bottleneck links and routes
func (a *Analyzer) Analyze(matrix model.LatencyMatrix, events []model.TraceEvent) *model.NetworkAnalysis {
	patterns := MinePatterns(events, a.config)
	links := BottleneckLinks(matrix, patterns, a.config)
	routes := RecommendRoutes(matrix, links, a.config)

	a.logger.Info("Network analysis completed",
		zap.Int("pairs", pairCount(matrix)),
		zap.Int("bottleneck_links", len(links)),
		zap.Int("routing_recommendations", len(routes)))

	return &model.NetworkAnalysis{
		LatencyMatrix:          matrix,
		CommunicationPatterns:  patterns,
		BottleneckLinks:        links,
		RoutingRecommendations: routes,
	}
}

func pairCount(matrix model.LatencyMatrix) int {
	n := 0
	for _, row := range matrix {
		n += len(row)
	}
	return n
}

// nodeIDs returns every node appearing in the matrix, sorted
func nodeIDs(matrix model.LatencyMatrix) []string {
	seen := make(map[string]struct{})
	for from, row := range matrix {
		seen[from] = struct{}{}
		for to := range row {
			seen[to] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
