package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// Version is reported in the coordination handshake
const Version = "1.0.0"

var (
	// ErrNotDeployed is returned when profiling starts before a deployment
	ErrNotDeployed = errors.New("no code deployed for session")

	// ErrUnknownSession is returned for messages of a session without handshake
	ErrUnknownSession = errors.New("unknown session")
)

// Config holds the agent settings
type Config struct {
	NodeID          string        `mapstructure:"node_id"`
	SubjectPrefix   string        `mapstructure:"subject_prefix"`
	Shell           string        `mapstructure:"shell"`
	WorkDir         string        `mapstructure:"work_dir"`
	PeerPings       int           `mapstructure:"peer_pings"`
	PeerTimeout     time.Duration `mapstructure:"peer_timeout"`
	CPUThreshold    float64       `mapstructure:"cpu_threshold"`
	MemoryThreshold float64       `mapstructure:"memory_threshold"`
	IOWaitThreshold float64       `mapstructure:"iowait_threshold"`
	EnableDocker    bool          `mapstructure:"enable_docker"`
	Monitor         MonitorConfig `mapstructure:"monitor"`
}

// DefaultConfig returns the agent defaults
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:   "profiler",
		Shell:           "/bin/sh",
		WorkDir:         os.TempDir(),
		PeerPings:       3,
		PeerTimeout:     2 * time.Second,
		CPUThreshold:    80,
		MemoryThreshold: 0.9,
		IOWaitThreshold: 0.2,
		Monitor:         DefaultMonitorConfig(),
	}
}

type session struct {
	callback   string
	offsets    map[string]float64
	deployment *protocol.DeployAgent
	cancel     context.CancelFunc
}

// Agent is the node-side profiling agent answering one node's subjects
type Agent struct {
	config  Config
	nc      *nats.Conn
	monitor *ResourceMonitor
	shell   Runner
	docker  Runner
	logger  *zap.Logger
	now     func() float64

	mu       sync.Mutex
	sessions map[string]*session
	subs     []*nats.Subscription
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewAgent creates a new agent publishing and subscribing on nc
func NewAgent(config Config, nc *nats.Conn, logger *zap.Logger) *Agent {
	logger = logger.Named("agent").With(zap.String("node_id", config.NodeID))
	monitor := NewResourceMonitor(config.Monitor, logger)

	return &Agent{
		config:   config,
		nc:       nc,
		monitor:  monitor,
		shell:    NewShellRunner(config.Shell, monitor, logger),
		logger:   logger,
		now:      clocksync.NowMillis,
		sessions: make(map[string]*session),
	}
}

// WithDocker enables containerized execution for contexts naming an image
func (a *Agent) WithDocker(r Runner) *Agent {
	a.docker = r
	return a
}

// Start subscribes to the node and peer subjects
func (a *Agent) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	nodeSub, err := a.nc.Subscribe(transport.NodeSubject(a.config.SubjectPrefix, a.config.NodeID), a.onMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe node subject: %w", err)
	}
	peerSub, err := a.nc.Subscribe(transport.PeerSubject(a.config.SubjectPrefix, a.config.NodeID), func(msg *nats.Msg) {
		msg.Respond(nil)
	})
	if err != nil {
		nodeSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe peer subject: %w", err)
	}
	if err := a.nc.Flush(); err != nil {
		nodeSub.Unsubscribe()
		peerSub.Unsubscribe()
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	a.mu.Lock()
	a.subs = []*nats.Subscription{nodeSub, peerSub}
	a.mu.Unlock()

	a.logger.Info("Agent started", zap.String("subject", nodeSub.Subject))
	return nil
}

// Stop unsubscribes, cancels running executions and waits for handlers
func (a *Agent) Stop() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("Agent stopped")
}

// Sessions returns the number of sessions with a completed handshake
func (a *Agent) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *Agent) onMessage(msg *nats.Msg) {
	receivedAt := a.now()

	env, err := protocol.Unmarshal(msg.Data)
	if err != nil {
		a.logger.Warn("Dropping malformed envelope", zap.Error(err))
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.handle(env, receivedAt)
	}()
}

func (a *Agent) handle(env *protocol.Envelope, receivedAt float64) {
	msg, err := protocol.Decode(env)
	if err != nil {
		a.reply(env, protocol.ErrorReply(env.MessageID, env.SessionID, a.config.NodeID, env.Type, err))
		return
	}

	if c, ok := msg.(*protocol.Coordination); ok {
		a.mu.Lock()
		a.sessions[env.SessionID] = &session{callback: c.CallbackAddress}
		a.mu.Unlock()
		a.logger.Info("Coordinator session opened", zap.String("session_id", env.SessionID))
	}

	resp, err := a.dispatch(env.SessionID, msg, receivedAt)
	if err != nil {
		a.logger.Warn("Request failed",
			zap.String("session_id", env.SessionID),
			zap.String("type", string(env.Type)),
			zap.Error(err))
		a.reply(env, protocol.ErrorReply(env.MessageID, env.SessionID, a.config.NodeID, env.Type, err))
		return
	}

	out, err := protocol.Reply(env.MessageID, env.SessionID, a.config.NodeID, resp)
	if err != nil {
		a.reply(env, protocol.ErrorReply(env.MessageID, env.SessionID, a.config.NodeID, env.Type, err))
		return
	}
	a.reply(env, out)

	// The ack goes to the session callback, so the session ends after it.
	if _, ok := msg.(*protocol.StopProfiling); ok {
		a.endSession(env.SessionID)
	}
}

func (a *Agent) dispatch(sessionID string, msg protocol.Message, receivedAt float64) (protocol.Message, error) {
	switch m := msg.(type) {
	case *protocol.Coordination:
		return &protocol.CoordinationAck{NodeID: a.config.NodeID, AgentVersion: Version}, nil
	case *protocol.ClockSyncRequest:
		return &protocol.ClockSyncResponse{ServerReceiveTime: receivedAt, ServerSendTime: a.now()}, nil
	case *protocol.ClockOffsets:
		return &protocol.ClockOffsetsAck{}, a.withSession(sessionID, func(s *session) { s.offsets = m.Offsets })
	case *protocol.DeployAgent:
		return a.deploy(sessionID, m)
	case *protocol.StartProfiling:
		return a.profile(sessionID, m)
	case *protocol.StopProfiling:
		return &protocol.StopProfilingAck{}, nil
	case *protocol.Ping:
		return &protocol.Pong{}, nil
	case *protocol.BandwidthTest:
		if m.Direction == protocol.DirectionDownload {
			return &protocol.BandwidthResult{Payload: make([]byte, m.Size)}, nil
		}
		return &protocol.BandwidthResult{Received: len(m.Payload)}, nil
	case *protocol.ResourceContention:
		return &protocol.ResourceContentionResult{Contention: a.monitor.Contention(a.ctx)}, nil
	case *protocol.MeasureLatencyTo:
		latency, err := a.measurePeer(m.TargetNode)
		if err != nil {
			return nil, err
		}
		return &protocol.LatencyResult{Latency: latency}, nil
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownMessageType, msg.Type())
	}
}

func (a *Agent) withSession(sessionID string, fn func(s *session)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	fn(s)
	return nil
}

func (a *Agent) endSession(sessionID string) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	if ok && s.cancel != nil {
		s.cancel()
	}
	a.logger.Info("Coordinator session closed", zap.String("session_id", sessionID))
}

// reply publishes to the callback announced in the session's handshake
func (a *Agent) reply(req, resp *protocol.Envelope) {
	a.mu.Lock()
	s, ok := a.sessions[req.SessionID]
	a.mu.Unlock()
	if !ok {
		a.logger.Debug("No callback for session", zap.String("session_id", req.SessionID))
		return
	}

	data, err := protocol.Marshal(resp)
	if err != nil {
		a.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	if err := a.nc.Publish(s.callback, data); err != nil {
		a.logger.Error("Failed to publish reply",
			zap.String("callback", s.callback),
			zap.Error(err))
	}
}

func (a *Agent) runnerFor(ctx protocol.ExecutionContext) (Runner, error) {
	if ctx.Image == "" {
		return a.shell, nil
	}
	if a.docker == nil {
		return nil, fmt.Errorf("%w: image %s requires docker", ErrRunnerUnavailable, ctx.Image)
	}
	return a.docker, nil
}

func (a *Agent) deploy(sessionID string, m *protocol.DeployAgent) (protocol.Message, error) {
	if _, err := a.runnerFor(m.Context); err != nil {
		return nil, err
	}
	if err := a.withSession(sessionID, func(s *session) { s.deployment = m }); err != nil {
		return nil, err
	}
	a.logger.Info("Code deployed",
		zap.String("session_id", sessionID),
		zap.Bool("tracing", m.Config.EnableTracing))
	return &protocol.DeployAgentAck{Deployed: true}, nil
}

func (a *Agent) profile(sessionID string, m *protocol.StartProfiling) (protocol.Message, error) {
	var deployment *protocol.DeployAgent
	runCtx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	err := a.withSession(sessionID, func(s *session) {
		deployment = s.deployment
		s.cancel = cancel
	})
	if err != nil {
		return nil, err
	}
	if deployment == nil {
		return nil, ErrNotDeployed
	}

	code, execCtx := deployment.Code, deployment.Context
	if m.Code != "" {
		code, execCtx = m.Code, m.Context
	}
	runner, err := a.runnerFor(execCtx)
	if err != nil {
		return nil, err
	}

	job := Job{
		Code:    code,
		Context: execCtx,
		Timeout: time.Duration(m.Options.Duration) * time.Millisecond,
	}
	if deployment.Config.EnableTracing {
		job.TraceFile = filepath.Join(a.config.WorkDir, fmt.Sprintf("dprof-%s-%s.jsonl", sessionID, a.config.NodeID))
		defer os.Remove(job.TraceFile)
	}

	result, err := runner.Run(runCtx, job)
	if err != nil {
		return nil, err
	}

	profile := model.AgentProfile{
		ExecutionProfile: model.ExecutionProfile{
			TotalTime: float64(result.End.Sub(result.Start)) / float64(time.Millisecond),
			CPUTime:   float64(result.CPUTime) / float64(time.Millisecond),
			StartTime: float64(result.Start.UnixNano()) / 1e6,
			EndTime:   float64(result.End.UnixNano()) / 1e6,
			ExitCode:  result.ExitCode,
			Output:    result.Output,
		},
		ResourceUsage: result.Usage,
	}

	if job.TraceFile != "" {
		comms, err := readTrace(job.TraceFile)
		if err != nil {
			a.logger.Warn("Failed to read trace file", zap.Error(err))
		}
		profile.Communications = comms
	}

	var contention model.ResourceContention
	if m.Options.IncludeResourceContention || deployment.Config.EnableResourceMonitoring {
		contention = a.monitor.Contention(runCtx)
	}
	profile.Bottlenecks = a.localBottlenecks(profile, contention)

	a.logger.Info("Profiling completed",
		zap.String("session_id", sessionID),
		zap.String("code_id", m.CodeID),
		zap.Float64("total_ms", profile.ExecutionProfile.TotalTime),
		zap.Int("exit_code", profile.ExecutionProfile.ExitCode))

	return &protocol.ProfilingResult{Profile: profile}, nil
}

// localBottlenecks derives the node's own bottlenecks from its measurements
func (a *Agent) localBottlenecks(p model.AgentProfile, c model.ResourceContention) []model.Bottleneck {
	var out []model.Bottleneck
	if cpu := p.ResourceUsage.CPUPercent; cpu > a.config.CPUThreshold {
		out = append(out, model.Bottleneck{
			Type:        model.BottleneckCPU,
			Location:    "process",
			Impact:      min(100, cpu),
			Description: fmt.Sprintf("Process averaged %.0f%% CPU", cpu),
			Remediation: "Optimize CPU-bound hot paths or add compute capacity",
		})
	}
	if c.MemoryPressure > a.config.MemoryThreshold {
		out = append(out, model.Bottleneck{
			Type:        model.BottleneckMemory,
			Location:    "host",
			Impact:      min(100, c.MemoryPressure*100),
			Description: fmt.Sprintf("Host memory is %.0f%% used", c.MemoryPressure*100),
			Remediation: "Reduce memory footprint or provision more memory",
		})
	}
	if c.IOWait > a.config.IOWaitThreshold {
		out = append(out, model.Bottleneck{
			Type:        model.BottleneckIO,
			Location:    "disk",
			Impact:      min(100, c.IOWait*100),
			Description: fmt.Sprintf("CPU spent %.0f%% waiting on I/O", c.IOWait*100),
			Remediation: "Batch disk access or move data to faster storage",
		})
	}
	return out
}

// measurePeer times request/reply round trips to the target's peer subject
func (a *Agent) measurePeer(target string) (float64, error) {
	pings := max(1, a.config.PeerPings)
	subject := transport.PeerSubject(a.config.SubjectPrefix, target)

	var total float64
	for i := 0; i < pings; i++ {
		start := a.now()
		if _, err := a.nc.Request(subject, nil, a.config.PeerTimeout); err != nil {
			return 0, fmt.Errorf("failed to reach peer %s: %w", target, err)
		}
		total += a.now() - start
	}
	return total / float64(pings), nil
}
