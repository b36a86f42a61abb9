package bottleneck

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// Input bundles everything the aggregator reads from a finished run
type Input struct {
	Nodes        []model.NodeProfile
	Network      *model.NetworkAnalysis
	Distribution *model.DistributionAnalysis
	Metrics      model.AggregatedMetrics
}

// Aggregator merges per-node, network and load bottlenecks into one ranked list
type Aggregator struct {
	config Config
	logger *zap.Logger
}

// NewAggregator creates a new bottleneck aggregator
func NewAggregator(config Config, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		config: config,
		logger: logger.Named("bottleneck-aggregator"),
	}
}

// Aggregate returns the distributed bottlenecks sorted by impact descending
func (a *Aggregator) Aggregate(in Input) []model.DistributedBottleneck {
	merged := a.crossNode(in.Nodes)
	if in.Network != nil {
		merged = append(merged, networkBottlenecks(in.Network.BottleneckLinks)...)
	}
	if in.Distribution != nil {
		if b, ok := a.loadImbalance(in.Distribution.LoadBalance); ok {
			merged = append(merged, b)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Impact > merged[j].Impact
	})

	a.logger.Debug("Bottlenecks aggregated", zap.Int("count", len(merged)))
	return merged
}

type groupKey struct {
	typ      model.BottleneckType
	location string
}

type group struct {
	bottleneck model.DistributedBottleneck
	nodes      map[string]struct{}
	nodeOrder  []string
	impact     float64
	reports    int
}

// crossNode promotes a (type, location) bottleneck once enough distinct nodes
// report it. The merged impact is the mean over all reports and the nodes keep
// the order in which they first reported it.
func (a *Aggregator) crossNode(nodes []model.NodeProfile) []model.DistributedBottleneck {
	groups := make(map[groupKey]*group)
	var order []groupKey

	for _, n := range nodes {
		for _, b := range n.Profile.Bottlenecks {
			key := groupKey{typ: b.Type, location: b.Location}
			g, ok := groups[key]
			if !ok {
				g = &group{
					bottleneck: model.DistributedBottleneck{Type: b.Type, Location: b.Location},
					nodes:      make(map[string]struct{}),
				}
				groups[key] = g
				order = append(order, key)
			}
			if _, seen := g.nodes[n.NodeID]; !seen {
				g.nodes[n.NodeID] = struct{}{}
				g.nodeOrder = append(g.nodeOrder, n.NodeID)
			}
			g.impact += b.Impact
			g.reports++
			if g.bottleneck.Description == "" {
				g.bottleneck.Description = b.Description
			}
			if g.bottleneck.Remediation == "" {
				g.bottleneck.Remediation = b.Remediation
			}
		}
	}

	var out []model.DistributedBottleneck
	for _, key := range order {
		g := groups[key]
		if len(g.nodes) < a.config.MinReportingNodes {
			continue
		}
		b := g.bottleneck
		b.Impact = g.impact / float64(g.reports)
		b.Nodes = g.nodeOrder
		if b.Description == "" {
			b.Description = fmt.Sprintf("%s bottleneck at %s on %d nodes", b.Type, b.Location, len(b.Nodes))
		}
		out = append(out, b)
	}
	return out
}

func networkBottlenecks(links []model.BottleneckLink) []model.DistributedBottleneck {
	out := make([]model.DistributedBottleneck, 0, len(links))
	for _, l := range links {
		out = append(out, model.DistributedBottleneck{
			Type:        model.BottleneckIO,
			Location:    l.From + "->" + l.To,
			Impact:      l.Impact,
			Nodes:       []string{l.From, l.To},
			Description: fmt.Sprintf("High latency link %s->%s (%.1fms)", l.From, l.To, l.Latency),
			Remediation: fmt.Sprintf("Reduce traffic between %s and %s or co-locate the communicating tasks", l.From, l.To),
		})
	}
	return out
}

func (a *Aggregator) loadImbalance(lb model.LoadBalance) (model.DistributedBottleneck, bool) {
	gini := math.Abs(lb.Imbalance)
	if gini <= a.config.ImbalanceThreshold {
		return model.DistributedBottleneck{}, false
	}
	return model.DistributedBottleneck{
		Type:        model.BottleneckLoadImbalance,
		Location:    "cluster",
		Impact:      math.Min(100, gini*100),
		Nodes:       append([]string{}, lb.OverloadedNodes...),
		Description: fmt.Sprintf("Execution time is unevenly distributed (Gini %.2f)", lb.Imbalance),
		Remediation: "Redistribute work from overloaded nodes to underutilized nodes",
	}, true
}

// Recommend derives the ordered, deduplicated recommendation list
func (a *Aggregator) Recommend(bottlenecks []model.DistributedBottleneck, in Input) []string {
	var recs []string

	n := 0
	for _, b := range bottlenecks {
		if n == a.config.TopRemediations {
			break
		}
		if b.Remediation == "" {
			continue
		}
		recs = append(recs, b.Remediation)
		n++
	}

	if d := in.Distribution; d != nil {
		if lb := d.LoadBalance; math.Abs(lb.Imbalance) > a.config.ImbalanceThreshold {
			rec := fmt.Sprintf("Balance load across nodes: imbalance is %.2f", lb.Imbalance)
			if len(lb.OverloadedNodes) > 0 {
				rec += fmt.Sprintf("; move work off %s", strings.Join(lb.OverloadedNodes, ", "))
			}
			recs = append(recs, rec)
		}
		if dl := d.DataLocality; dl.LocalityScore < a.config.LocalityThreshold {
			recs = append(recs, fmt.Sprintf(
				"Improve data locality: only %.0f%% of bytes were processed locally over %d cross-node transfers",
				dl.LocalityScore*100, dl.CrossNodeTransfers))
		}
		if pe := d.ParallelEfficiency; pe.NodeCount > 0 && pe.Efficiency < a.config.EfficiencyThreshold {
			recs = append(recs, fmt.Sprintf(
				"Increase parallelism: efficiency is %.0f%% with a speedup of %.2fx against an Amdahl limit of %.2fx on %d nodes",
				pe.Efficiency*100, pe.Speedup, pe.AmdahlLimit, pe.NodeCount))
		}
	}

	if in.Metrics.TotalNetworkTime > a.config.NetworkTimeThreshold {
		rec := fmt.Sprintf("Reduce network overhead: %.0fms spent outside execution", in.Metrics.TotalNetworkTime)
		if in.Network != nil && len(in.Network.RoutingRecommendations) > 0 {
			r := in.Network.RoutingRecommendations[0]
			rec += fmt.Sprintf("; route %s->%s via %s for a %.0f%% latency improvement",
				r.From, r.To, strings.Join(r.Path, "->"), r.Improvement)
		}
		recs = append(recs, rec)
	}

	return dedupe(recs)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
