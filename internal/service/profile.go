package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/coordinator"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/monitor"
	"github.com/t77yq/distributed-profiler/internal/storage"
)

// ResultSubject carries a Summary for every completed run
const ResultSubject = "profiler.result"

// Profiler runs one distributed profiling session
type Profiler interface {
	Profile(ctx context.Context, req coordinator.Request) (*model.DistributedProfile, error)
}

// Summary is the compact announcement of a completed run
type Summary struct {
	ProfileID       string    `json:"profile_id"`
	CodeID          string    `json:"code_id"`
	Score           int       `json:"score"`
	SuccessfulNodes int       `json:"successful_nodes"`
	FailedNodes     int       `json:"failed_nodes"`
	Alerts          int       `json:"alerts"`
	Timestamp       time.Time `json:"timestamp"`
}

// Result is the outcome of ProfileService.Run
type Result struct {
	Profile *model.DistributedProfile
	Alerts  []*model.Alert
}

// ProfileService runs profiles and records their outcome. History, alerts and
// the NATS connection are optional.
type ProfileService struct {
	profiler Profiler
	history  storage.ProfileHistory
	alerts   *monitor.AlertManager
	nc       *nats.Conn
	logger   *zap.Logger
}

// NewProfileService creates a service around profiler
func NewProfileService(profiler Profiler, history storage.ProfileHistory, alerts *monitor.AlertManager, nc *nats.Conn, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		profiler: profiler,
		history:  history,
		alerts:   alerts,
		nc:       nc,
		logger:   logger.Named("profile-service"),
	}
}

// Run profiles req, stores the profile, evaluates alerts and announces the
// summary. A storage or publish failure is logged and does not fail the run.
func (s *ProfileService) Run(ctx context.Context, req coordinator.Request) (*Result, error) {
	profile, err := s.profiler.Profile(ctx, req)
	if err != nil {
		s.logger.Error("Profiling failed",
			zap.String("code_id", req.CodeID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to profile %s: %w", req.CodeID, err)
	}

	result := &Result{Profile: profile}

	if s.history != nil {
		if err := s.history.Store(ctx, profile); err != nil {
			s.logger.Error("Failed to store profile",
				zap.String("profile_id", profile.ID),
				zap.Error(err))
		}
	}

	if s.alerts != nil {
		result.Alerts = s.alerts.Evaluate(profile)
	}

	if err := s.publish(result); err != nil {
		s.logger.Error("Failed to publish summary",
			zap.String("profile_id", profile.ID),
			zap.Error(err))
	}

	s.logger.Info("Profile completed",
		zap.String("profile_id", profile.ID),
		zap.String("code_id", profile.CodeID),
		zap.Int("score", profile.OverallScore),
		zap.Int("alerts", len(result.Alerts)))

	return result, nil
}

func (s *ProfileService) publish(result *Result) error {
	if s.nc == nil {
		return nil
	}

	p := result.Profile
	data, err := json.Marshal(Summary{
		ProfileID:       p.ID,
		CodeID:          p.CodeID,
		Score:           p.OverallScore,
		SuccessfulNodes: p.AggregatedMetrics.SuccessfulNodes,
		FailedNodes:     p.AggregatedMetrics.FailedNodes,
		Alerts:          len(result.Alerts),
		Timestamp:       p.Timestamp,
	})
	if err != nil {
		return err
	}
	return s.nc.Publish(ResultSubject, data)
}

// SubscribeSummaries calls handler for every announced run until ctx is done
func (s *ProfileService) SubscribeSummaries(ctx context.Context, handler func(Summary)) error {
	if s.nc == nil {
		return fmt.Errorf("no NATS connection")
	}

	sub, err := s.nc.Subscribe(ResultSubject, func(msg *nats.Msg) {
		var summary Summary
		if err := json.Unmarshal(msg.Data, &summary); err != nil {
			s.logger.Error("Failed to unmarshal summary",
				zap.Error(err))
			return
		}

		handler(summary)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
