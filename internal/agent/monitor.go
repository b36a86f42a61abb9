package agent

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// MonitorConfig controls host and process sampling
type MonitorConfig struct {
	SampleInterval   time.Duration `mapstructure:"sample_interval"`
	NominalBandwidth float64       `mapstructure:"nominal_bandwidth_bps"`
}

// DefaultMonitorConfig returns the sampling defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:   200 * time.Millisecond,
		NominalBandwidth: 1e9,
	}
}

// ResourceMonitor samples host contention and per-process usage
type ResourceMonitor struct {
	config MonitorConfig
	logger *zap.Logger
}

// NewResourceMonitor creates a new resource monitor
func NewResourceMonitor(config MonitorConfig, logger *zap.Logger) *ResourceMonitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultMonitorConfig().SampleInterval
	}
	return &ResourceMonitor{
		config: config,
		logger: logger.Named("resource-monitor"),
	}
}

// Contention takes one host snapshot over a sample interval. Metrics that
// cannot be read on this platform are left at zero.
func (m *ResourceMonitor) Contention(ctx context.Context) model.ResourceContention {
	var c model.ResourceContention

	timesBefore, _ := cpu.TimesWithContext(ctx, false)
	netBefore, _ := psnet.IOCountersWithContext(ctx, false)

	// Blocks for the interval
	if percent, err := cpu.PercentWithContext(ctx, m.config.SampleInterval, false); err == nil && len(percent) > 0 {
		c.CPUContention = percent[0] / 100
	} else if err != nil {
		m.logger.Debug("Failed to sample CPU", zap.Error(err))
	}

	timesAfter, _ := cpu.TimesWithContext(ctx, false)
	if len(timesBefore) > 0 && len(timesAfter) > 0 {
		c.IOWait = iowaitFraction(timesBefore[0], timesAfter[0])
	}

	netAfter, _ := psnet.IOCountersWithContext(ctx, false)
	if len(netBefore) > 0 && len(netAfter) > 0 && m.config.NominalBandwidth > 0 {
		moved := (netAfter[0].BytesSent + netAfter[0].BytesRecv) - (netBefore[0].BytesSent + netBefore[0].BytesRecv)
		bps := float64(moved) * 8 / m.config.SampleInterval.Seconds()
		c.NetworkSaturation = min(1, bps/m.config.NominalBandwidth)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		c.MemoryPressure = vm.UsedPercent / 100
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		c.LoadAverage = avg.Load1
	}

	return c
}

func totalTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

func iowaitFraction(before, after cpu.TimesStat) float64 {
	total := totalTime(after) - totalTime(before)
	if total <= 0 {
		return 0
	}
	return max(0, (after.Iowait-before.Iowait)/total)
}

// ProcessTracker samples one process until stopped and keeps the peaks
type ProcessTracker struct {
	proc     *process.Process
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	usage   model.ResourceUsage
	samples int
	cpuSum  float64
}

// Track starts sampling the process with the given pid
func (m *ResourceMonitor) Track(ctx context.Context, pid int) (*ProcessTracker, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}

	t := &ProcessTracker{
		proc:     proc,
		interval: m.config.SampleInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.loop(ctx)
	return t, nil
}

func (t *ProcessTracker) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sample(ctx)
		}
	}
}

func (t *ProcessTracker) sample(ctx context.Context) {
	memInfo, memErr := t.proc.MemoryInfoWithContext(ctx)
	cpuPercent, cpuErr := t.proc.CPUPercentWithContext(ctx)
	ioStat, ioErr := t.proc.IOCountersWithContext(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if memErr == nil {
		t.usage.MemoryBytes = memInfo.RSS
		t.usage.PeakMemoryBytes = max(t.usage.PeakMemoryBytes, memInfo.RSS)
	}
	if cpuErr == nil {
		t.cpuSum += cpuPercent
		t.samples++
	}
	if ioErr == nil {
		t.usage.DiskIOBytes = ioStat.ReadBytes + ioStat.WriteBytes
	}
}

// Stop ends sampling and returns the collected usage
func (t *ProcessTracker) Stop() model.ResourceUsage {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	usage := t.usage
	if t.samples > 0 {
		usage.CPUPercent = t.cpuSum / float64(t.samples)
	}
	return usage
}
