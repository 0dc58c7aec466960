package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrMissionCancelled is returned when a mission ends by cancellation
	ErrMissionCancelled = errors.New("mission cancelled")

	// ErrMissionFailed is returned when a mission ends with unfinished tasks
	ErrMissionFailed = errors.New("mission failed")
)

// TaskExecutionError reports a task that exhausted its retries. It wraps
// ErrMissionFailed so callers can match the class or inspect the fields.
type TaskExecutionError struct {
	TaskID   string
	Attempts int
	Detail   string
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %s", e.TaskID, e.Attempts, e.Detail)
}

func (e *TaskExecutionError) Unwrap() error {
	return ErrMissionFailed
}
