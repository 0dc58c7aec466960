package graph

import (
	"errors"
	"fmt"

	"github.com/missionctl/orchestrator/internal/model"
)

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when a task id is added twice
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrCircularDependency is returned when a circular dependency is detected
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrUnknownDependency is returned when a task depends on an id outside the graph
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrSelfDependency is returned when a task depends on itself
	ErrSelfDependency = errors.New("task depends on itself")
)

// InvalidTransitionError reports an illegal task status transition. It is a
// programming-logic fault: in correct operation it never fires.
type InvalidTransitionError struct {
	TaskID string
	From   model.TaskStatus
	To     model.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}
