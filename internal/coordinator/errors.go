package coordinator

import "errors"

var (
	// ErrNoNodes is returned when a run is requested without nodes
	ErrNoNodes = errors.New("no nodes to profile")

	// ErrNoReachableNodes is returned when no node could be connected
	ErrNoReachableNodes = errors.New("no reachable nodes")

	// ErrAllNodesFailed is returned when every connected node failed before or during profiling
	ErrAllNodesFailed = errors.New("all nodes failed")
)
