package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/coordinator"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/service"
)

// Runner executes one profiling run
type Runner interface {
	Run(ctx context.Context, req coordinator.Request) (*service.Result, error)
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RunScheduler triggers recurring profiling runs
type RunScheduler struct {
	logger  *zap.Logger
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
}

type entry struct {
	id       cron.EntryID
	schedule *model.RunSchedule
	request  coordinator.Request
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewRunScheduler creates a new scheduler. timeout bounds each run; zero
// means runs are bounded only by Stop.
func NewRunScheduler(runner Runner, timeout time.Duration, logger *zap.Logger) *RunScheduler {
	logger = logger.Named("scheduler")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RunScheduler{
		logger:  logger,
		runner:  runner,
		cron:    cron.New(cronOptions...),
		timeout: timeout,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the scheduler
func (s *RunScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("schedules", len(s.List())))
}

// Stop cancels in-flight runs and waits for them to return
func (s *RunScheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Add registers a schedule that profiles req on every tick of its expression
func (s *RunScheduler) Add(schedule *model.RunSchedule, req coordinator.Request) error {
	spec, err := parser.Parse(schedule.Expression)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidExpression, schedule.Expression, err)
	}

	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}
	if req.CodeID == "" {
		req.CodeID = schedule.CodeID
	}
	schedule.CodeID = req.CodeID

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[schedule.ID]; ok {
		s.cron.Remove(old.id)
	}

	e := &entry{schedule: schedule, request: req}
	// Schedule runs the job in its own goroutine per tick.
	e.id = s.cron.Schedule(spec, cron.FuncJob(func() { s.run(e) }))
	s.entries[schedule.ID] = e

	next := spec.Next(time.Now())
	schedule.NextRunTime = &next

	s.logger.Info("Added schedule",
		zap.String("id", schedule.ID),
		zap.String("name", schedule.Name),
		zap.String("expression", schedule.Expression),
		zap.Time("next_run", next))

	return nil
}

// Remove removes a schedule
func (s *RunScheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}

	s.cron.Remove(e.id)
	delete(s.entries, id)

	s.logger.Info("Removed schedule", zap.String("id", id))
	return nil
}

// Get returns a copy of the schedule with the given ID
func (s *RunScheduler) Get(id string) (model.RunSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return model.RunSchedule{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return *e.schedule, nil
}

// List returns copies of all schedules ordered by name
func (s *RunScheduler) List() []model.RunSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := make([]model.RunSchedule, 0, len(s.entries))
	for _, e := range s.entries {
		schedules = append(schedules, *e.schedule)
	}
	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].Name == schedules[j].Name {
			return schedules[i].ID < schedules[j].ID
		}
		return schedules[i].Name < schedules[j].Name
	})
	return schedules
}

// Trigger runs a schedule immediately, outside its cron cadence
func (s *RunScheduler) Trigger(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}

	s.run(e)
	return nil
}

func (s *RunScheduler) run(e *entry) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := s.runner.Run(ctx, e.request)

	s.mu.Lock()
	e.schedule.LastRunTime = &started
	if next := s.cron.Entry(e.id).Next; !next.IsZero() {
		e.schedule.NextRunTime = &next
	}
	if err == nil {
		e.schedule.LastScore = result.Profile.OverallScore
	}
	id, name := e.schedule.ID, e.schedule.Name
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled run failed",
			zap.String("id", id),
			zap.String("name", name),
			zap.Error(err))
		return
	}

	s.logger.Info("Executed schedule",
		zap.String("id", id),
		zap.String("name", name),
		zap.String("profile_id", result.Profile.ID),
		zap.Int("score", result.Profile.OverallScore),
		zap.Duration("elapsed", time.Since(started)))
}
