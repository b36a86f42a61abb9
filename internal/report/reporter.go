package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// Render formats a profile as a markdown report. The output depends only on
// the profile, so identical profiles render byte-identical reports.
func Render(p *model.DistributedProfile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Distributed Performance Report\n\n")
	fmt.Fprintf(&b, "- Profile: `%s`\n", p.ID)
	fmt.Fprintf(&b, "- Code: `%s`\n", p.CodeID)
	fmt.Fprintf(&b, "- Timestamp: %s\n", p.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Overall score: **%d/100**\n\n", p.OverallScore)

	writeSummary(&b, p)
	writeNodes(&b, p.Nodes)
	writeDistribution(&b, p.DistributionAnalysis)
	if p.NetworkAnalysis != nil {
		writeNetwork(&b, p.NetworkAnalysis)
	}
	writeBottlenecks(&b, p.Bottlenecks)
	writeRecommendations(&b, p.Recommendations)
	writeResources(&b, p)

	return b.String()
}

func writeSummary(b *strings.Builder, p *model.DistributedProfile) {
	m := p.AggregatedMetrics
	b.WriteString("## Execution Summary\n\n")
	fmt.Fprintf(b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Nodes | %d (%d succeeded, %d failed) |\n", len(p.Nodes), m.SuccessfulNodes, m.FailedNodes)
	fmt.Fprintf(b, "| Total execution time | %.2f ms |\n", m.TotalExecutionTime)
	fmt.Fprintf(b, "| Average execution time | %.2f ms |\n", m.AverageExecutionTime)
	fmt.Fprintf(b, "| Min / max execution time | %.2f / %.2f ms |\n", m.MinExecutionTime, m.MaxExecutionTime)
	fmt.Fprintf(b, "| Std deviation | %.2f ms |\n", m.StdDevExecutionTime)
	fmt.Fprintf(b, "| Total network time | %.2f ms |\n\n", m.TotalNetworkTime)
}

func writeNodes(b *strings.Builder, nodes []model.NodeProfile) {
	b.WriteString("## Per-Node Performance\n\n")
	b.WriteString("| Node | Status | Execution (ms) | Sync overhead (ms) | Avg latency (ms) | Jitter (ms) | Packet loss |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, n := range nodes {
		fmt.Fprintf(b, "| %s | %s | %.2f | %.2f | %.2f | %.2f | %.1f%% |\n",
			n.NodeID, n.Status, n.ExecutionTime(), n.SynchronizationOverhead,
			n.NetworkMetrics.Latency.Average, n.NetworkMetrics.Jitter, n.NetworkMetrics.PacketLoss*100)
	}
	for _, n := range nodes {
		if n.Error != "" {
			fmt.Fprintf(b, "\n- `%s`: %s", n.NodeID, n.Error)
		}
	}
	b.WriteString("\n")
}

func writeDistribution(b *strings.Builder, d *model.DistributionAnalysis) {
	if d == nil {
		d = &model.DistributionAnalysis{}
	}

	lb := d.LoadBalance
	b.WriteString("## Load Distribution\n\n")
	fmt.Fprintf(b, "- Imbalance (Gini): %.3f\n", lb.Imbalance)
	fmt.Fprintf(b, "- Mean execution time: %.2f ms\n", lb.MeanExecutionTime)
	fmt.Fprintf(b, "- Overloaded nodes: %s\n", list(lb.OverloadedNodes))
	fmt.Fprintf(b, "- Underutilized nodes: %s\n", list(lb.UnderutilizedNodes))
	dl := d.DataLocality
	if dl.Instrumented {
		fmt.Fprintf(b, "- Data locality: %.1f%% (%d local bytes, %d remote bytes, %d transfers)\n\n",
			dl.LocalityScore*100, dl.LocalBytes, dl.RemoteBytes, dl.CrossNodeTransfers)
	} else {
		b.WriteString("- Data locality: not instrumented\n\n")
	}

	pe := d.ParallelEfficiency
	b.WriteString("## Parallel Efficiency\n\n")
	fmt.Fprintf(b, "- Speedup: %.2fx\n", pe.Speedup)
	fmt.Fprintf(b, "- Efficiency: %.1f%%\n", pe.Efficiency*100)
	fmt.Fprintf(b, "- Amdahl limit: %.2fx (parallel fraction %.2f, %d nodes)\n\n", pe.AmdahlLimit, pe.ParallelFraction, pe.NodeCount)
}

func writeNetwork(b *strings.Builder, n *model.NetworkAnalysis) {
	b.WriteString("## Network Analysis\n\n")

	froms := make([]string, 0, len(n.LatencyMatrix))
	for from := range n.LatencyMatrix {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	if len(froms) > 0 {
		b.WriteString("### Latency Matrix\n\n| From | To | Latency (ms) |\n|---|---|---|\n")
		for _, from := range froms {
			row := n.LatencyMatrix[from]
			tos := make([]string, 0, len(row))
			for to := range row {
				tos = append(tos, to)
			}
			sort.Strings(tos)
			for _, to := range tos {
				fmt.Fprintf(b, "| %s | %s | %.2f |\n", from, to, row[to])
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("### Communication Patterns\n\n| Pattern | Frequency | Data volume (bytes) | Efficiency |\n|---|---|---|---|\n")
	for _, p := range n.CommunicationPatterns {
		fmt.Fprintf(b, "| %s | %d | %d | %.2f |\n", p.Type, p.Frequency, p.DataVolume, p.Efficiency)
	}
	b.WriteString("\n")

	if len(n.BottleneckLinks) > 0 {
		b.WriteString("### Bottleneck Links\n\n")
		for _, l := range n.BottleneckLinks {
			fmt.Fprintf(b, "- %s -> %s: %.2f ms (usage %.2f, impact %.1f)\n", l.From, l.To, l.Latency, l.Usage, l.Impact)
		}
		b.WriteString("\n")
	}

	if len(n.RoutingRecommendations) > 0 {
		b.WriteString("### Routing Recommendations\n\n")
		for _, r := range n.RoutingRecommendations {
			fmt.Fprintf(b, "- %s -> %s: use %s (%.2f ms instead of %.2f ms, %.1f%% faster)\n",
				r.From, r.To, strings.Join(r.Path, " -> "), r.AlternateLatency, r.CurrentLatency, r.Improvement)
		}
		b.WriteString("\n")
	}
}

func writeBottlenecks(b *strings.Builder, bottlenecks []model.DistributedBottleneck) {
	b.WriteString("## Distributed Bottlenecks\n\n")
	if len(bottlenecks) == 0 {
		b.WriteString("No distributed bottlenecks detected.\n\n")
		return
	}
	for i, bn := range bottlenecks {
		fmt.Fprintf(b, "%d. **%s** at `%s` (impact %.1f, nodes: %s)\n", i+1, bn.Type, bn.Location, bn.Impact, list(bn.Nodes))
		if bn.Description != "" {
			fmt.Fprintf(b, "   - %s\n", bn.Description)
		}
	}
	b.WriteString("\n")
}

func writeRecommendations(b *strings.Builder, recs []string) {
	b.WriteString("## Recommendations\n\n")
	if len(recs) == 0 {
		b.WriteString("No recommendations.\n\n")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(b, "- %s\n", r)
	}
	b.WriteString("\n")
}

func writeResources(b *strings.Builder, p *model.DistributedProfile) {
	m := p.AggregatedMetrics
	b.WriteString("## Resource Utilization\n\n")
	fmt.Fprintf(b, "- Average CPU: %.1f%%\n", m.AverageCPUPercent)
	fmt.Fprintf(b, "- Peak memory: %d bytes\n", m.PeakMemoryBytes)
	fmt.Fprintf(b, "- Disk I/O: %d bytes\n", m.TotalDiskIOBytes)
	fmt.Fprintf(b, "- Network I/O: %d bytes\n\n", m.TotalNetworkIOBytes)

	b.WriteString("| Node | CPU load | Memory pressure | I/O wait | Network saturation | Load average |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, n := range p.Nodes {
		c := n.ResourceContention
		fmt.Fprintf(b, "| %s | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
			n.NodeID, c.CPUContention, c.MemoryPressure, c.IOWait, c.NetworkSaturation, c.LoadAverage)
	}
}

func list(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
