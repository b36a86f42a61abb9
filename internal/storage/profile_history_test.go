package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/storage"
)

func openHistory(t *testing.T) *storage.SQLiteProfileHistory {
	t.Helper()
	h, err := storage.NewSQLiteProfileHistory(zap.NewNop(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func profile(id, codeID string, score int, at time.Time) *model.DistributedProfile {
	return &model.DistributedProfile{
		ID:        id,
		CodeID:    codeID,
		Timestamp: at,
		Nodes: []model.NodeProfile{
			{NodeID: "node1", Status: model.NodeStatusSuccess},
			{NodeID: "node2", Status: model.NodeStatusFailed, Error: "boom"},
		},
		AggregatedMetrics: model.AggregatedMetrics{SuccessfulNodes: 1, FailedNodes: 1},
		Bottlenecks:       []model.DistributedBottleneck{{Type: model.BottleneckCPU, Impact: 40}},
		Recommendations:   []string{"do less"},
		OverallScore:      score,
	}
}

func TestStoreAndGet(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, h.Store(ctx, profile("p1", "code-a", 72, at)))

	got, err := h.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "code-a", got.CodeID)
	assert.Equal(t, 72, got.OverallScore)
	assert.True(t, at.Equal(got.Timestamp))
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "boom", got.Nodes[1].Error)

	_, err = h.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAndCount(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.Store(ctx, profile("p1", "code-a", 90, base)))
	require.NoError(t, h.Store(ctx, profile("p2", "code-a", 40, base.Add(time.Hour))))
	require.NoError(t, h.Store(ctx, profile("p3", "code-b", 60, base.Add(2*time.Hour))))

	all, err := h.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p3", all[0].ID)
	assert.Equal(t, 1, all[0].Bottlenecks)

	byCode, err := h.List(ctx, storage.ListFilter{CodeID: "code-a"})
	require.NoError(t, err)
	require.Len(t, byCode, 2)
	assert.Equal(t, "p2", byCode[0].ID)

	maxScore := 60
	n, err := h.Count(ctx, storage.ListFilter{MaxScore: &maxScore})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := h.List(ctx, storage.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "p2", page[0].ID)
}

func TestDeleteBefore(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.Store(ctx, profile("old", "code-a", 50, base)))
	require.NoError(t, h.Store(ctx, profile("new", "code-a", 50, base.Add(48*time.Hour))))

	deleted, err := h.DeleteBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := h.Count(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := storage.NewSQLiteProfileHistory(zap.NewNop(), path)
	require.NoError(t, err)
	require.NoError(t, h.Store(context.Background(), profile("p1", "code-a", 80, time.Now())))
	require.NoError(t, h.Close())

	h, err = storage.NewSQLiteProfileHistory(zap.NewNop(), path)
	require.NoError(t, err)
	defer h.Close()

	n, err := h.Count(context.Background(), storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
