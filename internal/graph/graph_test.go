package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

func newTask(id string, deps ...string) *model.Task {
	return &model.Task{
		ID:                 id,
		Description:        "task " + id,
		RequiredCapability: "Bash",
		DependsOn:          deps,
	}
}

func TestAdd_DuplicateID(t *testing.T) {
	g := New(zap.NewNop())

	require.NoError(t, g.Add(newTask("t1")))
	err := g.Add(newTask("t1"))
	require.ErrorIs(t, err, ErrDuplicateTask)
}

func TestAdd_SelfDependency(t *testing.T) {
	g := New(zap.NewNop())

	err := g.Add(newTask("t1", "t1"))
	require.ErrorIs(t, err, ErrSelfDependency)
}

func TestAdd_CircularDependency(t *testing.T) {
	g := New(zap.NewNop())

	require.NoError(t, g.Add(newTask("t1", "t2")))
	require.NoError(t, g.Add(newTask("t2", "t3")))
	err := g.Add(newTask("t3", "t1"))
	require.ErrorIs(t, err, ErrCircularDependency)
}

func TestOrder_AcyclicSucceeds(t *testing.T) {
	g := New(zap.NewNop())

	require.NoError(t, g.Add(newTask("t1")))
	require.NoError(t, g.Add(newTask("t2", "t1")))
	require.NoError(t, g.Add(newTask("t3", "t1", "t2")))
	require.NoError(t, g.Add(newTask("t4")))

	order, err := g.Order()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["t1"], pos["t2"])
	assert.Less(t, pos["t1"], pos["t3"])
	assert.Less(t, pos["t2"], pos["t3"])
}

func TestOrder_UnknownDependency(t *testing.T) {
	g := New(zap.NewNop())

	require.NoError(t, g.Add(newTask("t1", "missing")))
	_, err := g.Order()
	require.ErrorIs(t, err, ErrUnknownDependency)
}

func TestReady_FrontierCorrectness(t *testing.T) {
	g := New(zap.NewNop())

	require.NoError(t, g.Add(newTask("t1")))
	require.NoError(t, g.Add(newTask("t2", "t1")))
	require.NoError(t, g.Add(newTask("t3")))

	// Only the dependency-free tasks are ready, in insertion order.
	ready := g.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "t1", ready[0].ID)
	assert.Equal(t, "t3", ready[1].ID)

	// t2 joins the frontier only once t1 completes.
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusReady))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusAssigned))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusRunning))

	ready = g.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "t3", ready[0].ID)

	require.NoError(t, g.MarkStatus("t1", model.TaskStatusCompleted))

	ready = g.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "t2", ready[0].ID)
}

func TestMarkStatus_IllegalTransitions(t *testing.T) {
	g := New(zap.NewNop())
	require.NoError(t, g.Add(newTask("t1")))

	// Skipping stages is rejected.
	err := g.MarkStatus("t1", model.TaskStatusRunning)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, model.TaskStatusPending, invalid.From)
	assert.Equal(t, model.TaskStatusRunning, invalid.To)

	// Completed is terminal.
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusReady))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusAssigned))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusRunning))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusCompleted))
	err = g.MarkStatus("t1", model.TaskStatusRunning)
	require.ErrorAs(t, err, &invalid)
}

func TestMarkStatus_RetryPath(t *testing.T) {
	g := New(zap.NewNop())
	require.NoError(t, g.Add(newTask("t1")))

	require.NoError(t, g.MarkStatus("t1", model.TaskStatusReady))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusAssigned))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusRunning))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusFailed))

	// failed -> ready is the one legal reverse edge.
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusReady))
}

func TestSettled_BlockedDependents(t *testing.T) {
	g := New(zap.NewNop())
	require.NoError(t, g.Add(newTask("t1")))
	require.NoError(t, g.Add(newTask("t2", "t1")))
	require.NoError(t, g.Add(newTask("t3", "t2")))

	require.NoError(t, g.MarkStatus("t1", model.TaskStatusReady))
	assert.False(t, g.Settled())

	require.NoError(t, g.MarkStatus("t1", model.TaskStatusAssigned))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusRunning))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusFailed))

	// t2 and t3 are pending forever behind the failed t1; the graph has
	// settled and the mission cannot complete.
	assert.True(t, g.Settled())
	assert.False(t, g.AllCompleted())
}

func TestCountByStatus(t *testing.T) {
	g := New(zap.NewNop())
	require.NoError(t, g.Add(newTask("t1")))
	require.NoError(t, g.Add(newTask("t2")))
	require.NoError(t, g.Add(newTask("t3", "t1")))

	require.NoError(t, g.MarkStatus("t1", model.TaskStatusReady))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusAssigned))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusRunning))
	require.NoError(t, g.MarkStatus("t1", model.TaskStatusCompleted))
	require.NoError(t, g.MarkStatus("t2", model.TaskStatusReady))

	counts := g.CountByStatus()
	assert.Equal(t, 1, counts[model.TaskStatusCompleted])
	assert.Equal(t, 1, counts[model.TaskStatusReady])
	assert.Equal(t, 1, counts[model.TaskStatusPending])
	assert.Zero(t, counts[model.TaskStatusFailed])
}

func TestDependents(t *testing.T) {
	g := New(zap.NewNop())
	require.NoError(t, g.Add(newTask("t1")))
	require.NoError(t, g.Add(newTask("t2", "t1")))
	require.NoError(t, g.Add(newTask("t3", "t1")))

	assert.ElementsMatch(t, []string{"t2", "t3"}, g.Dependents("t1"))
	assert.Empty(t, g.Dependents("t3"))
}
