package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/missionctl/orchestrator/internal/graph"
	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/state"
	"github.com/missionctl/orchestrator/internal/testutil"
)

func testStore(t *testing.T, missionID string) *state.Store {
	t.Helper()

	logger := zaptest.NewLogger(t)
	g := graph.New(logger)
	require.NoError(t, g.Add(&model.Task{ID: "t1", RequiredCapability: "Bash"}))
	require.NoError(t, g.Add(&model.Task{ID: "t2", RequiredCapability: "Bash", DependsOn: []string{"t1"}}))

	mission := model.Mission{ID: missionID, Status: model.MissionStatusExecuting, StartedAt: time.Now()}
	workers := []*model.Worker{{Name: "runner", Capabilities: []string{"Bash"}}}
	return state.NewStore(mission, g, workers, logger)
}

func TestMetricsCollector(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	collector := NewMetricsCollector(js, 1*time.Second, logger)

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "METRICS",
		Subjects: []string{"metrics.*"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collector.Start(ctx)
	defer collector.Stop()

	store := testStore(t, "m1")
	collector.Track(ctx, store)

	t.Run("TrackMissionUpdates", func(t *testing.T) {
		require.NoError(t, store.MarkTask("t1", model.TaskStatusReady))
		require.NoError(t, store.MarkTask("t1", model.TaskStatusAssigned))
		require.NoError(t, store.MarkTask("t1", model.TaskStatusRunning))
		require.NoError(t, store.MarkTask("t1", model.TaskStatusCompleted))

		require.Eventually(t, func() bool {
			metrics := collector.GetMetrics()
			mm, ok := metrics["m1"]
			return ok && mm.TaskCounts[model.TaskStatusCompleted] == 1
		}, 5*time.Second, 50*time.Millisecond)

		mm := collector.GetMetrics()["m1"]
		assert.Equal(t, model.MissionStatusExecuting, mm.Status)
		assert.Equal(t, 1, mm.TaskCounts[model.TaskStatusPending])
	})

	t.Run("PublishMetrics", func(t *testing.T) {
		msgs, err := testutil.ConsumeMessages(js, "metrics.mission", 3*time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var metrics struct {
			Timestamp   time.Time         `json:"timestamp"`
			CPUUsage    float64           `json:"cpu_usage"`
			MemoryUsage float64           `json:"memory_usage"`
			Missions    []*MissionMetrics `json:"missions"`
		}
		require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &metrics))

		assert.NotZero(t, metrics.Timestamp)
		assert.GreaterOrEqual(t, metrics.CPUUsage, 0.0)
		assert.GreaterOrEqual(t, metrics.MemoryUsage, 0.0)
		require.Len(t, metrics.Missions, 1)
		assert.Equal(t, "m1", metrics.Missions[0].MissionID)
	})
}

func TestAlertManager(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "ACTIVITY",
		Subjects: []string{"mission.activity.*"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	manager := NewAlertManager(logger, js)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	rule := &model.AlertRule{
		Name:     "task failures",
		Type:     model.AlertTypeTaskFailure,
		Severity: model.AlertSeverityWarning,
	}
	require.NoError(t, manager.AddRule(rule))
	require.NotEmpty(t, rule.ID)

	event := model.ActivityEvent{
		ID:         "e1",
		MissionID:  "m1",
		Kind:       model.EventKindError,
		TaskID:     "t1",
		WorkerName: "runner",
		Message:    "attempt 1 failed",
		Timestamp:  time.Now(),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = js.Publish("mission.activity.m1", data)
	require.NoError(t, err)

	msgs, err := testutil.ConsumeMessages(js, "alert.task_failure", 3*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	var alert model.Alert
	require.NoError(t, json.Unmarshal(msgs[0], &alert))
	assert.Equal(t, rule.ID, alert.RuleID)
	assert.Equal(t, model.AlertSeverityWarning, alert.Severity)
	assert.Equal(t, "m1", alert.Data["mission_id"])
	assert.Equal(t, "t1", alert.Data["task_id"])

	// Non-error events never trigger alerts.
	okEvent := model.ActivityEvent{ID: "e2", MissionID: "m1", Kind: model.EventKindComplete, TaskID: "t1"}
	data, err = json.Marshal(okEvent)
	require.NoError(t, err)
	_, err = js.Publish("mission.activity.m1", data)
	require.NoError(t, err)

	msgs, err = testutil.ConsumeMessages(js, "alert.task_failure", time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 1) // only the original alert replayed from the stream
}
