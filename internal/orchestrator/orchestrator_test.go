package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/executor"
	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/scheduler"
)

func testWorkers() []*model.Worker {
	return []*model.Worker{
		{Name: "editor", Capabilities: []string{"Edit"}, DescriptionKeywords: []string{"edit", "write"}},
		{Name: "runner", Capabilities: []string{"Bash"}, DescriptionKeywords: []string{"run", "test"}},
	}
}

func echoExecutor() *executor.LocalExecutor {
	exec := executor.NewLocalExecutor(zap.NewNop())
	handler := executor.HandlerFunc(func(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
		return &model.TaskResult{
			Status: model.TaskStatusCompleted,
			Result: []byte(dispatch.Description),
		}, nil
	})
	exec.RegisterHandler("Edit", handler)
	exec.RegisterHandler("Bash", handler)
	return exec
}

func TestStartMission_RunsToCompletion(t *testing.T) {
	o := New(testWorkers(), echoExecutor(), scheduler.Config{}, zap.NewNop())

	handle, err := o.StartMission(context.Background(), model.Plan{
		Name: "release",
		Tasks: []model.PlanTask{
			{ID: "edit", Description: "edit the changelog", RequiredCapability: "Edit"},
			{ID: "test", Description: "run the tests", RequiredCapability: "Bash", DependsOn: []string{"edit"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())

	snap := handle.Store.Snapshot()
	assert.Equal(t, model.MissionStatusCompleted, snap.Mission.Status)
	assert.Equal(t, "release", snap.Mission.Name)
	for _, task := range snap.Tasks {
		assert.Equal(t, model.TaskStatusCompleted, task.Status)
	}

	// The plan event is the first activity entry.
	require.NotEmpty(t, snap.ActivityLog)
	assert.Equal(t, model.EventKindPlan, snap.ActivityLog[0].Kind)

	// Terminal missions are deregistered.
	_, ok := o.Mission(handle.ID)
	assert.False(t, ok)
}

func TestStartMission_ValidationErrors(t *testing.T) {
	o := New(testWorkers(), echoExecutor(), scheduler.Config{}, zap.NewNop())

	cases := []struct {
		name string
		plan model.Plan
	}{
		{"empty plan", model.Plan{Name: "empty"}},
		{"duplicate id", model.Plan{Tasks: []model.PlanTask{
			{ID: "t1", RequiredCapability: "Edit"},
			{ID: "t1", RequiredCapability: "Edit"},
		}}},
		{"unknown capability", model.Plan{Tasks: []model.PlanTask{
			{ID: "t1", RequiredCapability: "Deploy"},
		}}},
		{"unknown dependency", model.Plan{Tasks: []model.PlanTask{
			{ID: "t1", RequiredCapability: "Edit", DependsOn: []string{"ghost"}},
		}}},
		{"cycle", model.Plan{Tasks: []model.PlanTask{
			{ID: "t1", RequiredCapability: "Edit", DependsOn: []string{"t2"}},
			{ID: "t2", RequiredCapability: "Edit", DependsOn: []string{"t1"}},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.StartMission(context.Background(), tc.plan)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	// Rejection leaves no mission registered.
	o.mu.Lock()
	assert.Empty(t, o.missions)
	o.mu.Unlock()
}

func TestStartMission_FailurePropagates(t *testing.T) {
	exec := executor.NewLocalExecutor(zap.NewNop())
	exec.RegisterHandler("Edit", executor.HandlerFunc(func(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
		return &model.TaskResult{Status: model.TaskStatusFailed, Error: "disk full"}, nil
	}))
	exec.RegisterHandler("Bash", executor.HandlerFunc(func(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
		return &model.TaskResult{Status: model.TaskStatusCompleted}, nil
	}))

	o := New(testWorkers(), exec, scheduler.Config{MaxRetries: 1, Strategy: scheduler.NoDelay{}}, zap.NewNop())

	handle, err := o.StartMission(context.Background(), model.Plan{
		Name: "doomed",
		Tasks: []model.PlanTask{
			{ID: "t1", Description: "edit", RequiredCapability: "Edit"},
		},
	})
	require.NoError(t, err)

	err = handle.Wait()
	var taskErr *scheduler.TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "t1", taskErr.TaskID)
	assert.Equal(t, 2, taskErr.Attempts)

	snap := handle.Store.Snapshot()
	assert.Equal(t, model.MissionStatusFailed, snap.Mission.Status)
}

func TestCancelMission(t *testing.T) {
	release := make(chan struct{})
	exec := executor.NewLocalExecutor(zap.NewNop())
	exec.RegisterHandler("Bash", executor.HandlerFunc(func(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &model.TaskResult{Status: model.TaskStatusCompleted}, nil
	}))

	o := New(testWorkers(), exec, scheduler.Config{}, zap.NewNop())

	handle, err := o.StartMission(context.Background(), model.Plan{
		Name: "long",
		Tasks: []model.PlanTask{
			{ID: "t1", Description: "run forever", RequiredCapability: "Bash"},
		},
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, o.CancelMission(handle.ID))

	err = handle.Wait()
	require.ErrorIs(t, err, scheduler.ErrMissionCancelled)

	snap := handle.Store.Snapshot()
	assert.Equal(t, model.MissionStatusFailed, snap.Mission.Status)
	assert.Equal(t, model.FailureReasonCancelled, snap.Mission.FailureReason)

	// Once terminal, the mission is gone and a second cancel is an error.
	assert.ErrorIs(t, o.CancelMission(handle.ID), ErrMissionNotFound)
	close(release)
}

func TestCancelMission_Unknown(t *testing.T) {
	o := New(testWorkers(), echoExecutor(), scheduler.Config{}, zap.NewNop())
	assert.ErrorIs(t, o.CancelMission("nope"), ErrMissionNotFound)
}

func TestStartMission_ConcurrentMissionsAreIsolated(t *testing.T) {
	o := New(testWorkers(), echoExecutor(), scheduler.Config{}, zap.NewNop())

	var wg sync.WaitGroup
	handles := make([]*MissionHandle, 3)
	for i := range handles {
		handle, err := o.StartMission(context.Background(), model.Plan{
			Name: "batch",
			Tasks: []model.PlanTask{
				{ID: "t1", Description: "edit things", RequiredCapability: "Edit"},
				{ID: "t2", Description: "run things", RequiredCapability: "Bash", DependsOn: []string{"t1"}},
			},
		})
		require.NoError(t, err)
		handles[i] = handle

		wg.Add(1)
		go func(h *MissionHandle) {
			defer wg.Done()
			assert.NoError(t, h.Wait())
		}(handle)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, handle := range handles {
		assert.False(t, seen[handle.ID], "mission ids must be unique")
		seen[handle.ID] = true
		snap := handle.Store.Snapshot()
		assert.Equal(t, model.MissionStatusCompleted, snap.Mission.Status)
		for _, event := range snap.ActivityLog {
			assert.Equal(t, handle.ID, event.MissionID)
		}
	}
}
