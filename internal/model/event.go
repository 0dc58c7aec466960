package model

import "time"

// EventKind represents the kind of an activity event
type EventKind string

const (
	EventKindPlan     EventKind = "plan"
	EventKindDelegate EventKind = "delegate"
	EventKindExecute  EventKind = "execute"
	EventKindComplete EventKind = "complete"
	EventKindError    EventKind = "error"
)

// ActivityEvent is one entry of the append-only mission activity log.
// Insertion order in the log is chronological order.
type ActivityEvent struct {
	ID         string    `json:"id"`
	MissionID  string    `json:"mission_id"`
	Kind       EventKind `json:"kind"`
	TaskID     string    `json:"task_id,omitempty"`
	WorkerName string    `json:"worker_name,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
