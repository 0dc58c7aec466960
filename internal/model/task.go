package model

import (
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// legalTransitions encodes the task state machine. The only reverse edge is
// the explicit retry path failed -> ready, bounded by the retry policy.
var legalTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:  {TaskStatusReady},
	TaskStatusReady:    {TaskStatusAssigned},
	TaskStatusAssigned: {TaskStatusRunning},
	TaskStatusRunning:  {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusFailed:   {TaskStatusReady},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status is terminal for scheduling purposes.
// A failed task is terminal unless the retry policy re-opens it.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a unit of work with a required capability and dependency set
type Task struct {
	ID                 string        `json:"id"`
	Description        string        `json:"description"`
	RequiredCapability string        `json:"required_capability"`
	DependsOn          []string      `json:"depends_on,omitempty"`
	Status             TaskStatus    `json:"status"`
	AssignedWorker     string        `json:"assigned_worker,omitempty"`
	Attempts           int           `json:"attempts"`
	MaxRetries         int           `json:"max_retries"`
	Timeout            time.Duration `json:"timeout,omitempty"`

	// Timing fields
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Execution details
	ErrorMessage string `json:"error_message,omitempty"`
	Result       []byte `json:"result,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Result != nil {
		cp.Result = append([]byte(nil), t.Result...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// TaskDispatch is the unit handed to a task executor for an assigned task
type TaskDispatch struct {
	MissionID          string        `json:"mission_id"`
	TaskID             string        `json:"task_id"`
	WorkerName         string        `json:"worker_name"`
	RequiredCapability string        `json:"required_capability"`
	Description        string        `json:"description"`
	Timeout            time.Duration `json:"timeout,omitempty"`
}

// TaskResult represents the terminal outcome reported by a task executor
type TaskResult struct {
	TaskID      string     `json:"task_id"`
	WorkerName  string     `json:"worker_name"`
	Status      TaskStatus `json:"status"`
	Result      []byte     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}
