package model

import "time"

// MissionStatus represents the overall status of a mission
type MissionStatus string

const (
	MissionStatusIdle      MissionStatus = "idle"
	MissionStatusPlanning  MissionStatus = "planning"
	MissionStatusExecuting MissionStatus = "executing"
	MissionStatusCompleted MissionStatus = "completed"
	MissionStatusFailed    MissionStatus = "failed"
)

// FailureReasonCancelled marks a mission failed by explicit cancellation
// rather than by task outcomes.
const FailureReasonCancelled = "cancelled"

// Mission is one complete plan-to-completion execution context
type Mission struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        MissionStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// PlanTask is the planner-submitted shape of a single task
type PlanTask struct {
	ID                 string        `json:"id"`
	Description        string        `json:"description"`
	RequiredCapability string        `json:"required_capability"`
	DependsOn          []string      `json:"depends_on,omitempty"`
	Timeout            time.Duration `json:"timeout,omitempty"`

	// MaxRetries overrides the mission-wide retry bound when positive.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Plan is the structured request an external planner submits to the
// orchestrator. Task order is preserved as submission order.
type Plan struct {
	Name  string     `json:"name"`
	Tasks []PlanTask `json:"tasks"`
}
