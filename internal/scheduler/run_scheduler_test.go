package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/coordinator"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/service"
)

type countingRunner struct {
	calls atomic.Int32
	score int
	err   error
	seen  chan coordinator.Request
}

func (r *countingRunner) Run(ctx context.Context, req coordinator.Request) (*service.Result, error) {
	r.calls.Add(1)
	if r.seen != nil {
		select {
		case r.seen <- req:
		default:
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &service.Result{Profile: &model.DistributedProfile{ID: "p", CodeID: req.CodeID, OverallScore: r.score}}, nil
}

func TestAddRemoveSchedule(t *testing.T) {
	s := NewRunScheduler(&countingRunner{}, 0, zap.NewNop())

	sched := &model.RunSchedule{Name: "nightly", Expression: "0 0 2 * * *", CodeID: "build"}
	require.NoError(t, s.Add(sched, coordinator.Request{Code: "make"}))
	require.NotEmpty(t, sched.ID)
	require.NotNil(t, sched.NextRunTime)
	assert.Equal(t, 2, sched.NextRunTime.Hour())

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Len(t, s.List(), 1)

	require.NoError(t, s.Remove(sched.ID))
	_, err = s.Get(sched.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, s.Remove(sched.ID), ErrScheduleNotFound)
}

func TestInvalidExpression(t *testing.T) {
	s := NewRunScheduler(&countingRunner{}, 0, zap.NewNop())

	err := s.Add(&model.RunSchedule{Expression: "every tuesday"}, coordinator.Request{})
	assert.ErrorIs(t, err, ErrInvalidExpression)
	assert.Empty(t, s.List())
}

func TestTriggerRecordsScore(t *testing.T) {
	runner := &countingRunner{score: 88, seen: make(chan coordinator.Request, 1)}
	s := NewRunScheduler(runner, time.Second, zap.NewNop())

	sched := &model.RunSchedule{Name: "adhoc", Expression: "@every 1h", CodeID: "job"}
	require.NoError(t, s.Add(sched, coordinator.Request{Code: "true"}))
	require.NoError(t, s.Trigger(sched.ID))

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 88, got.LastScore)
	require.NotNil(t, got.LastRunTime)

	req := <-runner.seen
	assert.Equal(t, "job", req.CodeID)
	assert.ErrorIs(t, s.Trigger("missing"), ErrScheduleNotFound)
}

func TestFailedRunKeepsScore(t *testing.T) {
	runner := &countingRunner{err: errors.New("no nodes")}
	s := NewRunScheduler(runner, 0, zap.NewNop())

	sched := &model.RunSchedule{Name: "x", Expression: "@hourly", LastScore: 50}
	require.NoError(t, s.Add(sched, coordinator.Request{}))
	require.NoError(t, s.Trigger(sched.ID))

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.LastScore)
	assert.NotNil(t, got.LastRunTime)
}

func TestCronFires(t *testing.T) {
	runner := &countingRunner{score: 70}
	s := NewRunScheduler(runner, 0, zap.NewNop())
	require.NoError(t, s.Add(&model.RunSchedule{Name: "fast", Expression: "* * * * * *"}, coordinator.Request{}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runner.calls.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}
