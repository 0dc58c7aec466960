package delegate

import (
	"errors"
	"fmt"
)

// ErrEmptyPool is returned when the resolver is given no workers at all
var ErrEmptyPool = errors.New("worker pool is empty")

// NoEligibleWorkerError reports that no worker passed the hard capability
// filter for a task. The task stays pending; mission policy decides whether
// to escalate or fail.
type NoEligibleWorkerError struct {
	TaskID     string
	Capability string
}

func (e *NoEligibleWorkerError) Error() string {
	return fmt.Sprintf("no eligible worker for task %s: capability %q not offered by any worker", e.TaskID, e.Capability)
}
