package network

import (
	"sort"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// MinePatterns detects every communication pattern independently over the
// communication events of the trace log. The result always holds broadcast,
// scatter-gather and pipeline in that order.
func MinePatterns(events []model.TraceEvent, config Config) []model.CommunicationPattern {
	comms := communicationEvents(events)
	return []model.CommunicationPattern{
		DetectBroadcast(comms, config),
		DetectScatterGather(comms, config),
		DetectPipeline(comms, config),
	}
}

func communicationEvents(events []model.TraceEvent) []model.TraceEvent {
	comms := make([]model.TraceEvent, 0, len(events))
	for _, ev := range events {
		if ev.EventType == model.TraceEventCommunication {
			comms = append(comms, ev)
		}
	}
	sort.SliceStable(comms, func(i, j int) bool {
		return comms[i].Timestamp < comms[j].Timestamp
	})
	return comms
}

// DetectBroadcast groups events into windows opened by the first event not yet
// covered. A window with exactly one source and more than two targets is one
// broadcast occurrence.
func DetectBroadcast(comms []model.TraceEvent, config Config) model.CommunicationPattern {
	pattern := model.CommunicationPattern{
		Type:       model.PatternBroadcast,
		Efficiency: config.Efficiencies.Broadcast,
	}
	window := millis(config.BroadcastWindow)
	nodes := make(map[string]struct{})

	for i := 0; i < len(comms); {
		start := comms[i].Timestamp
		j := i
		for j < len(comms) && comms[j].Timestamp-start < window {
			j++
		}

		sources := make(map[string]struct{})
		targets := make(map[string]struct{})
		var volume int64
		for _, ev := range comms[i:j] {
			sources[ev.Data.Source] = struct{}{}
			targets[ev.Data.Target] = struct{}{}
			volume += ev.Data.Bytes
		}

		if len(sources) == 1 && len(targets) > 2 {
			pattern.Frequency++
			pattern.DataVolume += volume
			for id := range sources {
				nodes[id] = struct{}{}
			}
			for id := range targets {
				nodes[id] = struct{}{}
			}
		}
		i = j
	}

	pattern.Nodes = sortedKeys(nodes)
	return pattern
}

// DetectScatterGather pairs each scatter with the earliest later unpaired gather
// of the same correlation id inside the window.
func DetectScatterGather(comms []model.TraceEvent, config Config) model.CommunicationPattern {
	pattern := model.CommunicationPattern{
		Type:       model.PatternScatterGather,
		Efficiency: config.Efficiencies.ScatterGather,
	}
	window := millis(config.ScatterGatherWindow)
	used := make([]bool, len(comms))
	nodes := make(map[string]struct{})

	for i, scatter := range comms {
		if scatter.Data.Operation != model.OperationScatter || scatter.Data.CorrelationID == "" {
			continue
		}
		for j := i + 1; j < len(comms); j++ {
			gather := comms[j]
			if gather.Timestamp-scatter.Timestamp > window {
				break
			}
			if used[j] || gather.Data.Operation != model.OperationGather ||
				gather.Data.CorrelationID != scatter.Data.CorrelationID ||
				gather.Timestamp <= scatter.Timestamp {
				continue
			}

			used[j] = true
			pattern.Frequency++
			pattern.DataVolume += scatter.Data.Bytes + gather.Data.Bytes
			addEndpoints(nodes, scatter, gather)
			break
		}
	}

	pattern.Nodes = sortedKeys(nodes)
	return pattern
}

// DetectPipeline builds maximal chains where each event's target is the next
// event's source and the gap stays under the limit. Chains of three or more count.
func DetectPipeline(comms []model.TraceEvent, config Config) model.CommunicationPattern {
	pattern := model.CommunicationPattern{
		Type:       model.PatternPipeline,
		Efficiency: config.Efficiencies.Pipeline,
	}
	gap := millis(config.PipelineGap)
	nodes := make(map[string]struct{})

	for i := 0; i < len(comms); {
		end := i
		for end+1 < len(comms) && chained(comms[end], comms[end+1], gap) {
			end++
		}

		if end-i+1 >= 3 {
			pattern.Frequency++
			for _, ev := range comms[i : end+1] {
				pattern.DataVolume += ev.Data.Bytes
				addEndpoints(nodes, ev)
			}
		}
		i = end + 1
	}

	pattern.Nodes = sortedKeys(nodes)
	return pattern
}

func chained(prev, next model.TraceEvent, gap float64) bool {
	return prev.Data.Target != "" &&
		prev.Data.Target == next.Data.Source &&
		next.Timestamp-prev.Timestamp < gap
}

func addEndpoints(nodes map[string]struct{}, events ...model.TraceEvent) {
	for _, ev := range events {
		if ev.Data.Source != "" {
			nodes[ev.Data.Source] = struct{}{}
		}
		if ev.Data.Target != "" {
			nodes[ev.Data.Target] = struct{}{}
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
