package network

import (
	"math"
	"sort"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// Usage weighs pattern frequencies into a single link usage figure
func Usage(patterns []model.CommunicationPattern, weights PatternWeights) float64 {
	var usage float64
	for _, p := range patterns {
		switch p.Type {
		case model.PatternBroadcast:
			usage += float64(p.Frequency) * weights.Broadcast
		case model.PatternScatterGather:
			usage += float64(p.Frequency) * weights.ScatterGather
		case model.PatternPipeline:
			usage += float64(p.Frequency) * weights.Pipeline
		}
	}
	return usage
}

// BottleneckLinks returns every directed pair above the latency threshold,
// sorted by impact descending.
func BottleneckLinks(matrix model.LatencyMatrix, patterns []model.CommunicationPattern, config Config) []model.BottleneckLink {
	usage := Usage(patterns, config.Weights)
	impact := math.Min(100, usage*10)

	var links []model.BottleneckLink
	for _, from := range nodeIDs(matrix) {
		for _, to := range nodeIDs(matrix) {
			if from == to {
				continue
			}
			latency, ok := matrix.Get(from, to)
			if !ok || latency <= config.BottleneckThreshold {
				continue
			}
			links = append(links, model.BottleneckLink{
				From:    from,
				To:      to,
				Latency: latency,
				Usage:   usage,
				Impact:  impact,
			})
		}
	}

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Impact != links[j].Impact {
			return links[i].Impact > links[j].Impact
		}
		return links[i].Latency > links[j].Latency
	})
	return links
}

// RecommendRoutes searches two-hop detours around each bottleneck link and
// keeps the cheapest one when it beats the cutoff fraction of the direct latency.
func RecommendRoutes(matrix model.LatencyMatrix, links []model.BottleneckLink, config Config) []model.RoutingRecommendation {
	ids := nodeIDs(matrix)

	var routes []model.RoutingRecommendation
	for _, link := range links {
		direct, ok := matrix.Get(link.From, link.To)
		if !ok || direct <= 0 {
			continue
		}

		bestMid := ""
		best := math.Inf(1)
		for _, mid := range ids {
			if mid == link.From || mid == link.To {
				continue
			}
			first, ok1 := matrix.Get(link.From, mid)
			second, ok2 := matrix.Get(mid, link.To)
			if !ok1 || !ok2 {
				continue
			}
			if total := first + second; total < best {
				best = total
				bestMid = mid
			}
		}

		if bestMid == "" || best >= config.RerouteCutoff*direct {
			continue
		}
		routes = append(routes, model.RoutingRecommendation{
			From:             link.From,
			To:               link.To,
			CurrentLatency:   direct,
			Path:             []string{link.From, bestMid, link.To},
			AlternateLatency: best,
			Improvement:      (direct - best) / direct * 100,
		})
	}
	return routes
}
