package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/testutil"
)

type recordingPublisher struct {
	subjects []string
	alerts   []model.Alert
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	var a model.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	p.subjects = append(p.subjects, subject)
	p.alerts = append(p.alerts, a)
	return nil
}

func sampleProfile() *model.DistributedProfile {
	return &model.DistributedProfile{
		ID: "profile-1",
		Nodes: []model.NodeProfile{
			{NodeID: "node1", Status: model.NodeStatusSuccess},
			{NodeID: "node2", Status: model.NodeStatusTimeout, Error: "deadline"},
			{NodeID: "node3", Status: model.NodeStatusFailed, Error: "exit 1"},
		},
		Bottlenecks: []model.DistributedBottleneck{
			{Type: model.BottleneckLoadImbalance, Location: "cluster", Impact: 65, Nodes: []string{"node1"}},
			{Type: model.BottleneckCPU, Location: "process", Impact: 20, Nodes: []string{"node1"}},
		},
		OverallScore: 42,
	}
}

func TestAlertManager_Rules(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil)

	rule := &model.AlertRule{Name: "Low score", Type: model.AlertTypeScoreBelow, Threshold: 50}
	require.NoError(t, manager.AddRule(rule))
	require.NotEmpty(t, rule.ID)
	require.Equal(t, model.AlertSeverityWarning, rule.Severity)
	require.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	got, err := manager.GetRule(rule.ID)
	require.NoError(t, err)
	require.Equal(t, "Low score", got.Name)

	rule.Threshold = 70
	require.NoError(t, manager.UpdateRule(rule))

	require.NoError(t, manager.DeleteRule(rule.ID))
	_, err = manager.GetRule(rule.ID)
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.ErrorIs(t, manager.DeleteRule(rule.ID), ErrRuleNotFound)
	require.ErrorIs(t, manager.UpdateRule(&model.AlertRule{ID: "nope"}), ErrRuleNotFound)
}

func TestAlertManager_InvalidRule(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil)

	require.ErrorIs(t, manager.AddRule(&model.AlertRule{Type: "cpu"}), ErrInvalidRule)
	require.ErrorIs(t, manager.AddRule(&model.AlertRule{Type: model.AlertTypeScoreBelow}), ErrInvalidRule)
	require.NoError(t, manager.AddRule(&model.AlertRule{Type: model.AlertTypeNodeFailure}))
}

func TestAlertManager_Evaluate(t *testing.T) {
	pub := &recordingPublisher{}
	manager := NewAlertManager(zap.NewNop(), pub)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	manager.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, manager.AddRule(&model.AlertRule{ID: "score", Name: "Low score", Type: model.AlertTypeScoreBelow, Threshold: 50, Severity: model.AlertSeverityError}))
	require.NoError(t, manager.AddRule(&model.AlertRule{ID: "nodes", Name: "Node down", Type: model.AlertTypeNodeFailure}))
	require.NoError(t, manager.AddRule(&model.AlertRule{ID: "impact", Name: "Hot spot", Type: model.AlertTypeBottleneckImpact, Threshold: 50}))
	require.NoError(t, manager.AddRule(&model.AlertRule{ID: "muted", Name: "Muted", Type: model.AlertTypeNodeFailure, Silenced: true}))

	alerts := manager.Evaluate(sampleProfile())
	require.Len(t, alerts, 4)

	assert.Equal(t, "score", alerts[0].RuleID)
	assert.Equal(t, model.AlertSeverityError, alerts[0].Severity)
	assert.Equal(t, "Low score: score 42 below 50", alerts[0].Message)

	assert.Equal(t, "node2", alerts[1].Data["node_id"])
	assert.Equal(t, "timeout", alerts[1].Data["status"])
	assert.Equal(t, "node3", alerts[2].Data["node_id"])

	assert.Equal(t, model.AlertTypeBottleneckImpact, alerts[3].Type)
	assert.Equal(t, "cluster", alerts[3].Data["location"])

	for _, a := range alerts {
		assert.Equal(t, "profile-1", a.ProfileID)
		assert.NotEmpty(t, a.ID)
	}

	require.Len(t, pub.subjects, 4)
	assert.Equal(t, "profiler.alert.score_below", pub.subjects[0])
	assert.Equal(t, "profiler.alert.node_failure", pub.subjects[1])
	assert.Equal(t, alerts[3].ID, pub.alerts[3].ID)
}

func TestAlertManager_NoAlerts(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil)
	require.NoError(t, manager.AddRule(&model.AlertRule{Type: model.AlertTypeScoreBelow, Threshold: 10}))

	assert.Empty(t, manager.Evaluate(sampleProfile()))
}

func TestAlertManager_PublishOverNATS(t *testing.T) {
	_, url := testutil.StartServer(t)
	nc := testutil.Connect(t, url)

	received := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(SubjectPrefix+"*", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	manager := NewAlertManager(zap.NewNop(), nc)
	require.NoError(t, manager.AddRule(&model.AlertRule{Name: "Low score", Type: model.AlertTypeScoreBelow, Threshold: 90}))

	alerts := manager.Evaluate(sampleProfile())
	require.Len(t, alerts, 1)
	require.NoError(t, nc.Flush())

	select {
	case msg := <-received:
		assert.Equal(t, "profiler.alert.score_below", msg.Subject)
		var a model.Alert
		require.NoError(t, json.Unmarshal(msg.Data, &a))
		assert.Equal(t, alerts[0].ID, a.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
}
