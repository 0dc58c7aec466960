package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

// TaskGraph holds the task set of one mission and answers dependency
// queries. It is pure data: mutations never trigger execution. All access is
// guarded; concurrent mutation from outside the store's serialized path is
// not expected but is safe.
type TaskGraph struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	tasks      map[string]*model.Task
	order      []string            // insertion order, keeps Ready() deterministic
	dependents map[string][]string // task id -> ids of tasks that depend on it
}

// New creates an empty task graph.
func New(logger *zap.Logger) *TaskGraph {
	return &TaskGraph{
		logger:     logger.Named("task-graph"),
		tasks:      make(map[string]*model.Task),
		dependents: make(map[string][]string),
	}
}

// Add adds a task to the graph. The task id must be unique, dependencies may
// reference only tasks already in the graph or the task set being built, and
// the resulting edge set must stay acyclic.
func (g *TaskGraph) Add(task *model.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return fmt.Errorf("%w: %s", ErrSelfDependency, task.ID)
		}
	}
	if err := g.checkCircular(task.ID, task.DependsOn); err != nil {
		return err
	}

	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	g.tasks[task.ID] = task
	g.order = append(g.order, task.ID)

	for _, depID := range task.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}

	return nil
}

// Get returns a copy of a task by id.
func (g *TaskGraph) Get(taskID string) (*model.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// Tasks returns copies of all tasks in insertion order.
func (g *TaskGraph) Tasks() []*model.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*model.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.tasks[id].Clone())
	}
	return tasks
}

// Ready returns the frontier: tasks whose status is pending and whose
// dependencies have all completed, in insertion order.
func (g *TaskGraph) Ready() []*model.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*model.Task
	for _, id := range g.order {
		task := g.tasks[id]
		if task.Status != model.TaskStatusPending {
			continue
		}
		if g.depsCompleted(task) {
			ready = append(ready, task.Clone())
		}
	}
	return ready
}

// Dependents returns the ids of tasks that depend on the given task.
func (g *TaskGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// MarkStatus transitions a task to the given status, validating the move
// against the task state machine.
func (g *TaskGraph) MarkStatus(taskID string, status model.TaskStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !model.CanTransition(task.Status, status) {
		return &InvalidTransitionError{TaskID: taskID, From: task.Status, To: status}
	}

	g.logger.Debug("Task status transition",
		zap.String("task_id", taskID),
		zap.String("from", string(task.Status)),
		zap.String("to", string(status)))

	task.Status = status
	return nil
}

// Update applies a mutation to a task under the graph lock. The callback must
// not change the task status; MarkStatus owns transitions.
func (g *TaskGraph) Update(taskID string, fn func(*model.Task)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	fn(task)
	return nil
}

// CountByStatus returns the number of tasks per status.
func (g *TaskGraph) CountByStatus() map[model.TaskStatus]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[model.TaskStatus]int)
	for _, task := range g.tasks {
		counts[task.Status]++
	}
	return counts
}

// Settled reports whether scheduling is over: no task is pending, ready,
// assigned, or running, or every non-terminal task is permanently blocked by
// a failed dependency.
func (g *TaskGraph) Settled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, task := range g.tasks {
		switch task.Status {
		case model.TaskStatusReady, model.TaskStatusAssigned, model.TaskStatusRunning:
			return false
		case model.TaskStatusPending:
			if !g.permanentlyBlocked(task) {
				return false
			}
		}
	}
	return true
}

// AllCompleted reports whether every task in the graph completed.
func (g *TaskGraph) AllCompleted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, task := range g.tasks {
		if task.Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// Order validates the whole graph and returns a deterministic topological
// ordering of task ids. All dependency ids must exist and the edge set must
// be acyclic.
func (g *TaskGraph) Order() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, task := range g.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, task.ID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range g.order {
		task := g.tasks[id]
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCircularDependency, err)
	}

	order := make([]string, 0, len(g.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.tasks) {
		var missing []string
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for _, id := range g.order {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// depsCompleted reports whether all dependencies of a task have completed.
// Caller holds the lock.
func (g *TaskGraph) depsCompleted(task *model.Task) bool {
	for _, depID := range task.DependsOn {
		dep, exists := g.tasks[depID]
		if !exists || dep.Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// permanentlyBlocked reports whether some transitive dependency of the task
// is failed, meaning the task can never become ready. Caller holds the lock.
func (g *TaskGraph) permanentlyBlocked(task *model.Task) bool {
	for _, depID := range task.DependsOn {
		dep, exists := g.tasks[depID]
		if !exists {
			return true
		}
		if dep.Status == model.TaskStatusFailed {
			return true
		}
		if dep.Status != model.TaskStatusCompleted && g.permanentlyBlocked(dep) {
			return true
		}
	}
	return false
}

// checkCircular runs a depth-first traversal over existing edges plus the
// candidate task's edges. Caller holds the lock.
func (g *TaskGraph) checkCircular(taskID string, deps []string) error {
	visited := make(map[string]bool)
	path := make(map[string]bool)

	var visit func(string) error
	visit = func(current string) error {
		if path[current] {
			return fmt.Errorf("%w: task %s", ErrCircularDependency, current)
		}
		if visited[current] {
			return nil
		}

		visited[current] = true
		path[current] = true

		var edges []string
		if current == taskID {
			edges = deps
		} else if t, exists := g.tasks[current]; exists {
			edges = t.DependsOn
		}
		for _, dep := range edges {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path[current] = false
		return nil
	}

	return visit(taskID)
}
