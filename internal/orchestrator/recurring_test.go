package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/scheduler"
)

func newRecurring(t *testing.T) *RecurringMissions {
	t.Helper()
	o := New(testWorkers(), echoExecutor(), scheduler.Config{}, zap.NewNop())
	return NewRecurringMissions(o, zap.NewNop())
}

func TestRecurring_AddRemove(t *testing.T) {
	r := newRecurring(t)

	schedule := &model.RecurringMission{
		Name:       "nightly",
		Expression: "0 0 3 * * *",
		Plan: model.Plan{
			Name:  "nightly",
			Tasks: []model.PlanTask{{ID: "t1", RequiredCapability: "Bash"}},
		},
	}
	require.NoError(t, r.Add(schedule))
	assert.NotEmpty(t, schedule.ID)
	require.NotNil(t, schedule.NextRunTime)
	assert.True(t, schedule.NextRunTime.After(time.Now()))

	got, err := r.Get(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Len(t, r.List(), 1)

	require.NoError(t, r.Remove(schedule.ID))
	_, err = r.Get(schedule.ID)
	assert.Error(t, err)
	assert.Empty(t, r.List())
}

func TestRecurring_ReturnsCopies(t *testing.T) {
	r := newRecurring(t)

	schedule := &model.RecurringMission{
		Name:       "isolated",
		Expression: "0 0 3 * * *",
		Plan: model.Plan{
			Name:  "isolated",
			Tasks: []model.PlanTask{{ID: "t1", RequiredCapability: "Bash"}},
		},
	}
	require.NoError(t, r.Add(schedule))

	// Mutating what Add, Get, and List hand back must not touch the
	// registered schedule.
	schedule.Name = "mangled-caller"
	schedule.Plan.Tasks[0].ID = "mangled-task"

	got, err := r.Get(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, "isolated", got.Name)
	assert.Equal(t, "t1", got.Plan.Tasks[0].ID)

	got.Name = "mangled-get"
	got.Plan.Tasks[0].ID = "mangled-again"

	listed := r.List()
	require.Len(t, listed, 1)
	assert.Equal(t, "isolated", listed[0].Name)
	assert.Equal(t, "t1", listed[0].Plan.Tasks[0].ID)
}

func TestRecurring_InvalidExpression(t *testing.T) {
	r := newRecurring(t)

	err := r.Add(&model.RecurringMission{
		Name:       "broken",
		Expression: "not a cron line",
	})
	require.Error(t, err)
	assert.Empty(t, r.List())
}

func TestRecurring_RemoveUnknown(t *testing.T) {
	r := newRecurring(t)
	assert.Error(t, r.Remove("ghost"))
}

func TestRecurring_FiresMission(t *testing.T) {
	o := New(testWorkers(), echoExecutor(), scheduler.Config{}, zap.NewNop())
	r := NewRecurringMissions(o, zap.NewNop())

	require.NoError(t, r.Add(&model.RecurringMission{
		Name:       "every-second",
		Expression: "* * * * * *",
		Plan: model.Plan{
			Name:  "tick",
			Tasks: []model.PlanTask{{ID: "t1", Description: "run tick", RequiredCapability: "Bash"}},
		},
	}))

	r.Start()
	defer r.Stop()

	deadline := time.After(5 * time.Second)
	for {
		schedules := r.List()
		require.Len(t, schedules, 1)
		if schedules[0].LastRunTime != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("schedule never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
