package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
)

// TraceFileEnv names the variable pointing profiled code at its trace file.
// Each line written there is one JSON communication record.
const TraceFileEnv = "DPROF_TRACE_FILE"

// ErrRunnerUnavailable is returned when no runner can execute a context
var ErrRunnerUnavailable = errors.New("no runner for execution context")

// Job is one execution of deployed code
type Job struct {
	Code      string
	Context   protocol.ExecutionContext
	Timeout   time.Duration
	TraceFile string
}

// Execution is what a runner observed while executing a job
type Execution struct {
	Output   string
	ExitCode int
	Start    time.Time
	End      time.Time
	CPUTime  time.Duration
	Usage    model.ResourceUsage
}

// Runner executes code on the node
type Runner interface {
	Run(ctx context.Context, job Job) (*Execution, error)
}

// readTrace loads the communication records appended by the profiled code.
// Malformed lines are skipped.
func readTrace(path string) ([]model.CommunicationRecord, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []model.CommunicationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec model.CommunicationRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
